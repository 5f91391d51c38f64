// Package browser drives a single AI Studio tab through Playwright and
// exposes it behind the proxy session contract. One StudioSession owns
// one page; the proxy core guarantees calls are serialized, so no
// locking happens here.
package browser

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"studioproxy/internal/proxy"
	"studioproxy/pkg/types"
)

const (
	actionTimeoutMS = 15000
	pollInterval    = 150 * time.Millisecond
	// quietPolls is how many consecutive no-growth polls after the run
	// button returns to idle we treat as end of generation.
	quietPolls = 3
)

// Config holds the knobs for attaching to or launching the browser.
type Config struct {
	StudioURL  string
	Headless   bool
	CDPURL     string // connect to a running Chrome instead of launching
	ProfileDir string // persistent profile (keeps the Google login)
	Selectors  Selectors
}

// StudioSession implements proxy.Session on top of one Playwright page.
// Interactive methods (ApplyModel, ApplyParameters, RunCompletion,
// ListModels) rely on the caller's serialization; mu only guards the
// cached fields, which readiness and model-list queries touch from HTTP
// goroutines.
type StudioSession struct {
	cfg  Config
	log  zerolog.Logger
	pw   *playwright.Playwright
	br   playwright.Browser
	bctx playwright.BrowserContext
	page playwright.Page

	mu     sync.Mutex
	models []types.Model
	ready  bool
}

var _ proxy.Session = (*StudioSession)(nil)

// New installs driver assets if needed, attaches to a browser and
// navigates the page to the prompt UI. The returned session is ready once
// the prompt input is visible, which requires an authenticated profile.
func New(cfg Config, log zerolog.Logger) (*StudioSession, error) {
	if cfg.StudioURL == "" {
		return nil, fmt.Errorf("browser: studio url is required")
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return nil, fmt.Errorf("browser: install driver: %w", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("browser: start driver: %w", err)
	}
	s := &StudioSession{cfg: cfg, log: log, pw: pw}
	if err := s.attach(); err != nil {
		_ = pw.Stop()
		return nil, err
	}
	if err := s.open(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *StudioSession) attach() error {
	switch {
	case s.cfg.CDPURL != "":
		br, err := s.pw.Chromium.ConnectOverCDP(s.cfg.CDPURL)
		if err != nil {
			return fmt.Errorf("browser: connect over cdp: %w", err)
		}
		s.br = br
		if ctxs := br.Contexts(); len(ctxs) > 0 {
			s.bctx = ctxs[0]
		} else {
			bctx, err := br.NewContext()
			if err != nil {
				return fmt.Errorf("browser: new context: %w", err)
			}
			s.bctx = bctx
		}
	case s.cfg.ProfileDir != "":
		bctx, err := s.pw.Chromium.LaunchPersistentContext(s.cfg.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(s.cfg.Headless),
		})
		if err != nil {
			return fmt.Errorf("browser: launch persistent context: %w", err)
		}
		s.bctx = bctx
	default:
		br, err := s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(s.cfg.Headless),
		})
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		s.br = br
		bctx, err := br.NewContext()
		if err != nil {
			return fmt.Errorf("browser: new context: %w", err)
		}
		s.bctx = bctx
	}
	return nil
}

func (s *StudioSession) open() error {
	var page playwright.Page
	if pages := s.bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		p, err := s.bctx.NewPage()
		if err != nil {
			return fmt.Errorf("browser: new page: %w", err)
		}
		page = p
	}
	page.SetDefaultTimeout(actionTimeoutMS)
	if _, err := page.Goto(s.cfg.StudioURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("browser: open %s: %w", s.cfg.StudioURL, err)
	}
	s.page = page
	if _, err := page.WaitForSelector(s.cfg.Selectors.PromptInput, playwright.PageWaitForSelectorOptions{
		State: playwright.WaitForSelectorStateVisible,
	}); err != nil {
		// Likely a login wall; the session stays up but not ready so the
		// operator can complete auth in a headed window.
		s.log.Warn().Err(err).Msg("prompt input not visible, session not ready")
		return nil
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	s.log.Info().Str("url", s.cfg.StudioURL).Msg("studio page ready")
	return nil
}

// Ready reports whether the prompt UI is reachable. The visibility probe
// is a passive page query; it never drives the UI.
func (s *StudioSession) Ready() bool {
	if s.page == nil {
		return false
	}
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready {
		return true
	}
	visible, err := s.page.IsVisible(s.cfg.Selectors.PromptInput)
	if err != nil || !visible {
		return false
	}
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return true
}

// ApplyModel opens the model menu and selects modelID. Playwright calls
// carry their own timeouts, so ctx is checked between steps rather than
// threaded through.
func (s *StudioSession) ApplyModel(ctx context.Context, modelID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sel := s.cfg.Selectors
	if err := s.page.Click(sel.ModelMenuTrigger); err != nil {
		return fmt.Errorf("open model menu: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := sel.ModelOptionFor(modelID)
	if _, err := s.page.WaitForSelector(opt, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(actionTimeoutMS),
	}); err != nil {
		// Close the menu so the page is usable for the next attempt.
		_ = s.page.Keyboard().Press("Escape")
		return fmt.Errorf("model %q not in menu: %w", modelID, err)
	}
	if err := s.page.Click(opt); err != nil {
		return fmt.Errorf("select model %q: %w", modelID, err)
	}
	// The UI rebuilds the settings panel on switch; wait for it to settle.
	if _, err := s.page.WaitForSelector(sel.SettingsPanel, playwright.PageWaitForSelectorOptions{
		State: playwright.WaitForSelectorStateVisible,
	}); err != nil {
		return fmt.Errorf("settings panel after switch: %w", err)
	}
	s.log.Info().Str("model", modelID).Msg("model selected")
	return nil
}

// ApplyParameters fills the run-settings inputs for the current model.
func (s *StudioSession) ApplyParameters(ctx context.Context, modelID string, params types.GenParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sel := s.cfg.Selectors
	if params.Temperature > 0 {
		if err := s.fillNumber(sel.TemperatureInput, params.Temperature); err != nil {
			return fmt.Errorf("temperature: %w", err)
		}
	}
	if params.TopP > 0 {
		if err := s.fillNumber(sel.TopPInput, params.TopP); err != nil {
			return fmt.Errorf("top_p: %w", err)
		}
	}
	if params.MaxOutputTokens > 0 {
		if err := s.page.Fill(sel.MaxTokensInput, strconv.Itoa(params.MaxOutputTokens)); err != nil {
			return fmt.Errorf("max output tokens: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, stop := range params.Stop {
		if err := s.page.Fill(sel.StopSequenceInput, stop); err != nil {
			return fmt.Errorf("stop sequence: %w", err)
		}
		if err := s.page.Keyboard().Press("Enter"); err != nil {
			return fmt.Errorf("stop sequence: %w", err)
		}
	}
	s.log.Debug().Str("model", modelID).Msg("parameters applied")
	return nil
}

func (s *StudioSession) fillNumber(selector string, v float64) error {
	return s.page.Fill(selector, strconv.FormatFloat(v, 'f', -1, 64))
}

// RunCompletion starts a fresh chat turn and returns a stream that polls
// the growing response text out of the page.
func (s *StudioSession) RunCompletion(ctx context.Context, job proxy.CompletionJob) (proxy.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := s.cfg.Selectors
	if err := s.newChat(); err != nil {
		return nil, err
	}
	prompt := BuildPrompt(job.Messages)
	if err := s.page.Fill(sel.PromptInput, prompt); err != nil {
		return nil, fmt.Errorf("fill prompt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.page.Click(sel.RunButton); err != nil {
		return nil, fmt.Errorf("submit prompt: %w", err)
	}
	s.log.Info().Str("request_id", job.RequestID).Int("prompt_len", len(prompt)).Msg("prompt submitted")
	return &pollStream{session: s}, nil
}

// newChat resets the conversation so earlier turns cannot leak into the
// prompt. Best effort: a missing button just means the chat is empty.
func (s *StudioSession) newChat() error {
	sel := s.cfg.Selectors
	visible, err := s.page.IsVisible(sel.NewChatButton)
	if err != nil || !visible {
		return nil
	}
	if err := s.page.Click(sel.NewChatButton); err != nil {
		return fmt.Errorf("new chat: %w", err)
	}
	if confirm, _ := s.page.IsVisible(sel.ConfirmButton); confirm {
		if err := s.page.Click(sel.ConfirmButton); err != nil {
			return fmt.Errorf("confirm new chat: %w", err)
		}
	}
	return nil
}

// ListModels scrapes the model menu. The result is cached for the life of
// the session; the menu contents do not change underneath us. The scrape
// drives the page, so callers must hold the proxy's processing lock.
func (s *StudioSession) ListModels(ctx context.Context) ([]types.Model, error) {
	s.mu.Lock()
	cached := s.models
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := s.cfg.Selectors
	if err := s.page.Click(sel.ModelMenuTrigger); err != nil {
		return nil, fmt.Errorf("open model menu: %w", err)
	}
	if _, err := s.page.WaitForSelector(sel.ModelOptionAll, playwright.PageWaitForSelectorOptions{
		State: playwright.WaitForSelectorStateVisible,
	}); err != nil {
		return nil, fmt.Errorf("model menu entries: %w", err)
	}
	handles, err := s.page.QuerySelectorAll(sel.ModelOptionAll)
	if err != nil {
		return nil, fmt.Errorf("model menu entries: %w", err)
	}
	var models []types.Model
	for _, h := range handles {
		id, err := h.GetAttribute("data-model-id")
		if err != nil || id == "" {
			continue
		}
		name, _ := h.InnerText()
		models = append(models, types.Model{
			ID:          id,
			Object:      "model",
			DisplayName: strings.TrimSpace(name),
		})
	}
	_ = s.page.Keyboard().Press("Escape")
	s.mu.Lock()
	s.models = models
	s.mu.Unlock()
	return models, nil
}

// Close tears the browser stack down in reverse order of construction.
func (s *StudioSession) Close() {
	if s.bctx != nil {
		_ = s.bctx.Close()
	}
	if s.br != nil {
		_ = s.br.Close()
	}
	if s.pw != nil {
		_ = s.pw.Stop()
	}
}

// responseText reads the current text of the newest model turn.
func (s *StudioSession) responseText() (string, error) {
	el, err := s.page.QuerySelector(s.cfg.Selectors.LastResponse)
	if err != nil || el == nil {
		return "", err
	}
	return el.InnerText()
}

// generating reports whether the UI still shows a run in flight.
func (s *StudioSession) generating() bool {
	visible, err := s.page.IsVisible(s.cfg.Selectors.StopButton)
	return err == nil && visible
}

// pollStream turns the growing response text into a chunk sequence by
// diffing successive reads of the page.
type pollStream struct {
	session *StudioSession
	seen    string
	quiet   int
	done    bool
}

func (ps *pollStream) Next(ctx context.Context) (string, error) {
	if ps.done {
		return "", io.EOF
	}
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
		text, err := ps.session.responseText()
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		delta, ok := TextDelta(ps.seen, text)
		if !ok {
			// The turn was replaced under us; treat the fresh text as the
			// whole delta rather than failing the stream.
			ps.seen = text
			if text != "" {
				return text, nil
			}
			continue
		}
		if delta != "" {
			ps.seen = text
			ps.quiet = 0
			return delta, nil
		}
		if ps.session.generating() {
			ps.quiet = 0
			continue
		}
		ps.quiet++
		if ps.quiet >= quietPolls {
			ps.done = true
			return "", io.EOF
		}
	}
}

// TextDelta returns the suffix of cur that extends prev. ok is false when
// cur does not extend prev (the element was reset or replaced).
func TextDelta(prev, cur string) (delta string, ok bool) {
	if !strings.HasPrefix(cur, prev) {
		return "", false
	}
	return cur[len(prev):], true
}

// BuildPrompt flattens a chat transcript into the single text the prompt
// box accepts, framing each turn with its role.
func BuildPrompt(messages []types.Message) string {
	if len(messages) == 1 && messages[0].Role == "user" {
		return messages[0].Content
	}
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
