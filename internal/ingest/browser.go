package ingest

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"vlwatch/internal/config"
	"vlwatch/internal/model"
)

// BrowserSource drives Chrome over CDP, opens the watched pages and turns
// their background API responses into captures. A main-frame load of a
// watched page becomes a page-load capture.
type BrowserSource struct {
	cfg     config.BrowserConfig
	out     chan<- model.Capture
	logger  *slog.Logger
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func StartBrowser(ctx context.Context, cfg *config.Manager, out chan<- model.Capture, logger *slog.Logger) (*BrowserSource, error) {
	current := cfg.Get().Ingest.Browser
	if !current.Enabled {
		if logger != nil {
			logger.Info("browser ingest disabled")
		}
		return nil, nil
	}
	s := &BrowserSource{cfg: current, out: out, logger: logger}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	for _, pageURL := range current.Pages {
		if err := s.watch(ctx, pageURL); err != nil {
			s.Close()
			return nil, err
		}
	}
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

func (s *BrowserSource) connect(ctx context.Context) error {
	wsURL := s.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Context(ctx).Headless(s.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		s.lnch = l
	}
	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	s.browser = b
	if s.logger != nil {
		s.logger.Info("browser ingest enabled", "control_url", wsURL, "headless", s.cfg.Headless, "stealth", s.cfg.Stealth)
	}
	return nil
}

func (s *BrowserSource) watch(ctx context.Context, pageURL string) error {
	var page *rod.Page
	var err error
	if s.cfg.Stealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return fmt.Errorf("browser: create tab: %w", err)
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return fmt.Errorf("browser: enable network: %w", err)
	}

	var mu sync.Mutex
	pending := map[proto.NetworkRequestID]string{}
	mainURL := pageURL

	wait := page.Context(ctx).EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response == nil {
				return
			}
			if _, ok := model.KindForURL(e.Response.URL); ok {
				mu.Lock()
				pending[e.RequestID] = e.Response.URL
				mu.Unlock()
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			mu.Lock()
			url, ok := pending[e.RequestID]
			delete(pending, e.RequestID)
			mu.Unlock()
			if ok {
				go s.fetchBody(ctx, page, e.RequestID, url)
			}
		},
		func(e *proto.NetworkLoadingFailed) {
			mu.Lock()
			delete(pending, e.RequestID)
			mu.Unlock()
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				mu.Lock()
				mainURL = e.Frame.URL
				mu.Unlock()
			}
		},
		func(*proto.PageLoadEventFired) {
			mu.Lock()
			url := mainURL
			mu.Unlock()
			if _, ok := model.KindForPage(url); ok {
				SendNonBlocking(ctx, s.out, model.Capture{
					Event:  model.EventPageLoad,
					URL:    url,
					Source: "browser",
					At:     time.Now().UTC(),
				}, s.logger)
			}
		},
	)
	go wait()

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = page.Close()
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if s.logger != nil {
		s.logger.Info("browser watching page", "url", pageURL)
	}
	return nil
}

func (s *BrowserSource) fetchBody(ctx context.Context, page *rod.Page, id proto.NetworkRequestID, url string) {
	res, err := proto.NetworkGetResponseBody{RequestID: id}.Call(page.Context(ctx))
	if err != nil {
		if s.logger != nil && ctx.Err() == nil {
			s.logger.Warn("browser response body unavailable", "url", url, "err", err)
		}
		return
	}
	body := res.Body
	if res.Base64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("browser response body undecodable", "url", url, "err", err)
			}
			return
		}
		body = string(raw)
	}
	SendNonBlocking(ctx, s.out, model.Capture{
		Event:  model.EventResponse,
		URL:    url,
		Body:   body,
		Source: "browser",
		At:     time.Now().UTC(),
	}, s.logger)
}

func (s *BrowserSource) Close() {
	if s == nil {
		return
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
}
