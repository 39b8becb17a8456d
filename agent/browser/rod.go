package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/webpilot/internal/tlsutil"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RodConnector opens sessions over the Chrome DevTools Protocol.
type RodConnector struct {
	cfg        Config
	normalizer *Normalizer
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRodConnector 创建基于 go-rod 的连接器
func NewRodConnector(cfg Config, logger *zap.Logger) *RodConnector {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = def.ActionTimeout
	}
	return &RodConnector{
		cfg:        cfg,
		normalizer: NewNormalizer(),
		httpClient: tlsutil.HTTPClient(cfg.ConnectTimeout),
		logger:     logger.With(zap.String("component", "rod_connector")),
	}
}

// Connect attaches to endpoint, or launches a local browser when endpoint
// is empty. The first open page is reused; a blank one is created otherwise.
func (c *RodConnector) Connect(ctx context.Context, endpoint string) (Session, error) {
	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	var (
		controlURL string
		local      *launcher.Launcher
		err        error
	)
	if endpoint == "" {
		local = launcher.New().Headless(c.cfg.Headless)
		controlURL, err = local.Context(connectCtx).Launch()
		if err != nil {
			return nil, fmt.Errorf("%w: launch local browser: %v", ErrSessionUnavailable, err)
		}
	} else {
		controlURL, err = ResolveEndpoint(connectCtx, c.httpClient, endpoint)
		if err != nil {
			return nil, err
		}
	}

	// 会话生命周期独立于 Connect 的超时，Close 时断开
	sessCtx, disconnect := context.WithCancel(ctx)
	b := rod.New().ControlURL(controlURL).Context(sessCtx)
	if err := b.Connect(); err != nil {
		disconnect()
		if local != nil {
			local.Kill()
		}
		return nil, fmt.Errorf("%w: connect %s: %v", ErrSessionUnavailable, controlURL, err)
	}

	page, err := firstPage(b)
	if err != nil {
		if local != nil {
			_ = b.Close()
			local.Kill()
		}
		disconnect()
		return nil, fmt.Errorf("%w: open page: %v", ErrSessionUnavailable, err)
	}

	c.logger.Info("browser session opened",
		zap.String("endpoint", endpoint),
		zap.Bool("local", local != nil))

	return &RodSession{
		browser:    b,
		page:       page,
		launcher:   local,
		disconnect: disconnect,
		endpoint:   endpoint,
		timeout:    c.cfg.ActionTimeout,
		normalizer: c.normalizer,
		logger:     c.logger,
	}, nil
}

func firstPage(b *rod.Browser) (*rod.Page, error) {
	pages, err := b.Pages()
	if err != nil {
		return nil, err
	}
	if len(pages) > 0 {
		return pages.First(), nil
	}
	return b.Page(proto.TargetCreateTarget{URL: "about:blank"})
}

// RodSession drives a single page of a rod browser.
type RodSession struct {
	mu         sync.Mutex
	browser    *rod.Browser
	page       *rod.Page
	launcher   *launcher.Launcher
	disconnect context.CancelFunc
	endpoint   string
	timeout    time.Duration
	normalizer *Normalizer
	logger     *zap.Logger
	closed     bool
}

func (s *RodSession) Endpoint() string { return s.endpoint }

func (s *RodSession) pageCtx(ctx context.Context) (*rod.Page, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, fmt.Errorf("%w: session closed", ErrSessionUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.page.Context(ctx), cancel, nil
}

// Perceive stamps ids into the live DOM and returns the normalized snapshot.
func (s *RodSession) Perceive(ctx context.Context) (Perception, error) {
	page, cancel, err := s.pageCtx(ctx)
	if err != nil {
		return Perception{}, err
	}
	defer cancel()

	info, err := page.Info()
	if err != nil {
		return Perception{}, fmt.Errorf("%w: page info: %v", ErrSessionUnavailable, err)
	}
	if _, err := page.Eval(stampScript, IDAttribute, InteractiveSelector); err != nil {
		s.logger.Debug("stamp element ids failed", zap.Error(err))
	}
	html, err := page.HTML()
	if err != nil {
		return Perception{}, fmt.Errorf("%w: read html: %v", ErrSessionUnavailable, err)
	}
	markup, err := s.normalizer.Normalize(html)
	if err != nil {
		return Perception{}, err
	}
	return Perception{URL: info.URL, Markup: markup}, nil
}

func (s *RodSession) Navigate(ctx context.Context, url string) error {
	page, cancel, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (s *RodSession) element(page *rod.Page, elementID string) (*rod.Element, error) {
	el, err := page.Element(Locator(elementID))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: id %s", ErrElementNotFound, elementID)
		}
		return nil, fmt.Errorf("locate element %s: %w", elementID, err)
	}
	return el, nil
}

func (s *RodSession) Click(ctx context.Context, elementID string) error {
	page, cancel, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := s.element(page, elementID)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click element %s: %w", elementID, err)
	}
	// 点击可能触发跳转，等待加载但不把超时当作失败
	_ = page.WaitLoad()
	return nil
}

func (s *RodSession) Type(ctx context.Context, elementID, text string) error {
	page, cancel, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := s.element(page, elementID)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus element %s: %w", elementID, err)
	}
	_ = el.SelectAllText()
	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into element %s: %w", elementID, err)
	}
	return nil
}

func (s *RodSession) Reload(ctx context.Context) error {
	page, cancel, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := page.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	_ = page.WaitLoad()
	return nil
}

func (s *RodSession) GoBack(ctx context.Context) error {
	page, cancel, err := s.pageCtx(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := page.NavigateBack(); err != nil {
		return fmt.Errorf("navigate back: %w", err)
	}
	_ = page.WaitLoad()
	return nil
}

// Close detaches from a remote browser and leaves it running, so a resume
// can reattach. A locally launched browser is shut down.
func (s *RodSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.disconnect()

	if s.launcher == nil {
		return nil
	}
	err := s.browser.Close()
	s.launcher.Kill()
	return err
}

var _ Session = (*RodSession)(nil)
var _ Connector = (*RodConnector)(nil)
