package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/webpilot/agent/action"
	"github.com/BaSui01/webpilot/agent/browser"
)

// DefaultMarkers are the words that flag a page as showing an error.
var DefaultMarkers = []string{"error", "ошибка", "fail", "неверный", "invalid"}

// Anomaly is a problem found on the page after an action.
type Anomaly struct {
	Marker  string
	Message string
}

func (a *Anomaly) Error() string { return a.Message }

// Verifier checks the page after an action. A nil Anomaly means the page
// looks fine.
type Verifier interface {
	Verify(ctx context.Context, p browser.Perception, a action.Action) *Anomaly
}

// LexicalVerifier flags pages whose markup contains any marker,
// case-insensitively.
type LexicalVerifier struct {
	markers []string
}

// NewLexicalVerifier uses DefaultMarkers when markers is empty.
func NewLexicalVerifier(markers ...string) *LexicalVerifier {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	lower := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lower = append(lower, m)
		}
	}
	return &LexicalVerifier{markers: lower}
}

func (v *LexicalVerifier) Verify(_ context.Context, p browser.Perception, a action.Action) *Anomaly {
	page := strings.ToLower(p.Markup)
	for _, m := range v.markers {
		if strings.Contains(page, m) {
			return &Anomaly{
				Marker:  m,
				Message: fmt.Sprintf("error marker %q found on page after %s", m, action.String(a)),
			}
		}
	}
	return nil
}
