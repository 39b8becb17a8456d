package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// IDAttribute is the attribute that carries the stable element id.
const IDAttribute = "data-webpilot-id"

// ErrSessionUnavailable marks a browser that cannot be reached or driven.
var ErrSessionUnavailable = errors.New("browser session unavailable")

// ErrElementNotFound is returned when no element carries the requested id.
var ErrElementNotFound = errors.New("element not found")

// Perception 单次观察得到的页面状态，每轮重新计算，不做持久化
type Perception struct {
	URL    string `json:"url"`
	Markup string `json:"normalized_markup"`
}

// Session is one live browser page driven by a single loop.
type Session interface {
	Perceive(ctx context.Context) (Perception, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, elementID string) error
	Type(ctx context.Context, elementID, text string) error
	Reload(ctx context.Context) error
	GoBack(ctx context.Context) error

	// Endpoint is the address a later resume can reattach to.
	Endpoint() string
	Close() error
}

// Connector opens sessions. An empty endpoint launches a local browser.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (Session, error)
}

// Locator returns the CSS selector for a stamped element id.
func Locator(elementID string) string {
	return fmt.Sprintf("[%s='%s']", IDAttribute, elementID)
}

// Config 浏览器连接配置
type Config struct {
	Headless       bool          `yaml:"headless" env:"HEADLESS" json:"headless"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT" json:"connect_timeout"`
	ActionTimeout  time.Duration `yaml:"action_timeout" env:"ACTION_TIMEOUT" json:"action_timeout"`
}

// DefaultConfig 默认浏览器配置
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		ConnectTimeout: 30 * time.Second,
		ActionTimeout:  10 * time.Second,
	}
}
