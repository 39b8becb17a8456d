// =============================================================================
// 📦 测试数据工厂 - 页面与模型回复
// =============================================================================
package fixtures

import (
	"fmt"

	"github.com/BaSui01/webpilot/agent/browser"
)

// =============================================================================
// 🎯 页面
// =============================================================================

// LoginURL 登录页地址
const LoginURL = "https://shop.test/login"

// LoginPage 返回带用户名、密码与提交按钮的登录页
func LoginPage() browser.Perception {
	return browser.Perception{
		URL: LoginURL,
		Markup: `<form><input name="user" data-webpilot-id="1"/>` +
			`<input name="password" type="password" data-webpilot-id="2"/>` +
			`<button data-webpilot-id="3">Sign in</button></form>`,
	}
}

// AccountPage 返回登录成功后的页面
func AccountPage() browser.Perception {
	return browser.Perception{
		URL:    "https://shop.test/account",
		Markup: `<h1>Welcome back</h1><a data-webpilot-id="1">Orders</a>`,
	}
}

// ErrorPage 返回包含异常标记的页面
func ErrorPage() browser.Perception {
	return browser.Perception{
		URL:    LoginURL,
		Markup: `<div class="alert">Invalid password</div>`,
	}
}

// =============================================================================
// 💬 模型回复
// =============================================================================

// ClickReply 点击动作回复
func ClickReply(id string) string {
	return fmt.Sprintf(`{"action":"click","element_id":%q,"reasoning":"press it"}`, id)
}

// TypeReply 输入动作回复
func TypeReply(id, text string) string {
	return fmt.Sprintf(`{"action":"type","element_id":%q,"text":%q}`, id, text)
}

// FinishReply 完成动作回复
func FinishReply(result string) string {
	return fmt.Sprintf("```json\n{\"action\":\"finish\",\"result\":%q}\n```", result)
}

// ClassifyReply 恢复分类回复
func ClassifyReply(errorType, strategy string) string {
	return fmt.Sprintf(`{"error_type":%q,"recovery_strategy":%q,"reasoning":"fixture"}`, errorType, strategy)
}
