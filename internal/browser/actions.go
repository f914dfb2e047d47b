package browser

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jonathan/open-outreach/internal/touchpoint"
)

// Selectors for LinkedIn's logged-in UI. These track the standard desktop
// web app only; Sales Navigator flows are out of scope.
const (
	selConnectButton   = `button[aria-label*="Invite"][aria-label*="connect"], .pvs-profile-actions button[aria-label*="connect"]`
	selAddNoteButton   = `button[aria-label="Add a note"]`
	selNoteTextarea    = `textarea[name="message"]`
	selSendInvite      = `button[aria-label="Send without a note"], button[aria-label="Send invitation"], button[aria-label="Send now"]`
	selPendingBadge    = `button[aria-label*="Pending"]`
	selMessageButton   = `button[aria-label*="Message"]`
	selMessageBox      = `div.msg-form__contenteditable`
	selMessageSend     = `button.msg-form__send-button`
	selReactionTrigger = `button[aria-label="React Like"], button.react-button__trigger`
	selCommentButton   = `button[aria-label*="Comment"]`
	selCommentBox      = `div.comments-comment-box__form div[contenteditable="true"]`
	selCommentSubmit   = `button.comments-comment-box__submit-button--cr, button[class*="comments-comment-box__submit"]`
	selInMailCompose   = `div.msg-form[data-compose-type="inmail"], div.msg-overlay-conversation-bubble--is-inmail`
	selInMailSubject   = `input[name="subject"]`
	selNoCreditsBanner = `[class*="upsell"], [data-test-modal*="premium"]`
)

// navigate opens a URL and verifies the landing page matches the expected
// path fragment. A mismatch usually means a redirect to an auth wall or an
// unavailable page.
func (s *session) navigate(ctx context.Context, url, expectedPattern string) error {
	if url == "" {
		return &touchpoint.ExecError{Kind: touchpoint.KindNotAvailable, Message: "no target url"}
	}
	var landed string
	if err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&landed),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if expectedPattern != "" && !strings.Contains(landed, expectedPattern) {
		return &touchpoint.ExecError{
			Kind:    touchpoint.KindBlocked,
			Message: fmt.Sprintf("expected %s page, landed on %s", expectedPattern, landed),
		}
	}
	return nil
}

// clickIfVisible clicks the first visible match within the wait window.
// Returns false when nothing matched, without failing the chromedp run.
func (s *session) clickIfVisible(ctx context.Context, selector string, wait time.Duration) bool {
	clickCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err := s.run(clickCtx,
		chromedp.WaitVisible(selector),
		chromedp.Click(selector),
	)
	return err == nil
}

// visitProfile opens a profile and simulates a human reading it with
// stepped scrolling over the requested duration.
func (s *session) visitProfile(ctx context.Context, url string, durationS float64, scrollDepth int) (map[string]any, error) {
	if err := s.navigate(ctx, url, "/in/"); err != nil {
		return nil, err
	}
	log.Printf("[BROWSER] Visiting profile %s (duration %.1fs, scrolls %d)", url, durationS, scrollDepth)

	if scrollDepth > 0 {
		pause := time.Duration(durationS/float64(scrollDepth)*1000) * time.Millisecond
		for i := 0; i < scrollDepth; i++ {
			if err := s.run(ctx,
				chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil),
				chromedp.Sleep(pause),
			); err != nil {
				return nil, fmt.Errorf("scroll failed: %w", err)
			}
		}
	} else if durationS > 0 {
		if err := s.run(ctx, chromedp.Sleep(time.Duration(durationS*1000)*time.Millisecond)); err != nil {
			return nil, err
		}
	}

	return map[string]any{
		"url":          url,
		"duration_s":   durationS,
		"scroll_depth": scrollDepth,
	}, nil
}

// connect sends a connection request, optionally with a note. Already
// pending or already connected both count as success.
func (s *session) connect(ctx context.Context, url, note string) (map[string]any, error) {
	if err := s.navigate(ctx, url, "/in/"); err != nil {
		return nil, err
	}

	if s.clickIfVisible(ctx, selPendingBadge, 2*time.Second) {
		return map[string]any{"status": "pending"}, nil
	}

	if !s.clickIfVisible(ctx, selConnectButton, 5*time.Second) {
		return nil, &touchpoint.ExecError{
			Kind:    touchpoint.KindNotAvailable,
			Message: "connect button not found; profile may be out of network or already connected",
		}
	}

	if note != "" {
		if !s.clickIfVisible(ctx, selAddNoteButton, 5*time.Second) {
			return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "add-note button not found"}
		}
		if err := s.run(ctx,
			chromedp.WaitVisible(selNoteTextarea),
			chromedp.SendKeys(selNoteTextarea, note),
			chromedp.Sleep(time.Second),
		); err != nil {
			return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "note textarea not usable: " + err.Error()}
		}
	}

	if !s.clickIfVisible(ctx, selSendInvite, 5*time.Second) {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "send-invitation button not found"}
	}

	log.Printf("[BROWSER] Connection request sent → %s", url)
	return map[string]any{"status": "pending", "note_attached": note != ""}, nil
}

// directMessage sends a message to an existing connection through the
// profile's message overlay.
func (s *session) directMessage(ctx context.Context, url, message string) (map[string]any, error) {
	if err := s.navigate(ctx, url, "/in/"); err != nil {
		return nil, err
	}

	if !s.clickIfVisible(ctx, selMessageButton, 5*time.Second) {
		return nil, &touchpoint.ExecError{
			Kind:    touchpoint.KindNotAvailable,
			Message: "message button not found; recipient may not be a connection",
		}
	}

	if err := s.run(ctx,
		chromedp.WaitVisible(selMessageBox),
		chromedp.Click(selMessageBox),
		chromedp.SendKeys(selMessageBox, message),
		chromedp.Sleep(time.Second),
	); err != nil {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "message box not usable: " + err.Error()}
	}
	if !s.clickIfVisible(ctx, selMessageSend, 5*time.Second) {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "send button not found or disabled"}
	}

	log.Printf("[BROWSER] Message sent → %s", url)
	return map[string]any{"status": "sent"}, nil
}

// reactToPost applies a reaction to a feed post. LIKE is a plain click; the
// other reactions need a hover to open the reaction tray first.
func (s *session) reactToPost(ctx context.Context, postURL, reaction string) (map[string]any, error) {
	if err := s.navigate(ctx, postURL, "/feed/update/"); err != nil {
		return nil, err
	}

	if reaction != "LIKE" {
		hoverCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := s.run(hoverCtx,
			chromedp.WaitVisible(selReactionTrigger),
			// hover opens the reaction tray
			chromedp.Evaluate(fmt.Sprintf(
				`document.querySelector(%q).dispatchEvent(new MouseEvent("mouseenter", {bubbles: true}))`,
				"button.react-button__trigger"), nil),
			chromedp.Sleep(time.Second),
		)
		cancel()
		if err != nil {
			return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "reaction trigger not found"}
		}
		traySel := fmt.Sprintf(`button[aria-label*="%s" i].reactions-menu__reaction`, strings.ToLower(reaction))
		if !s.clickIfVisible(ctx, traySel, 5*time.Second) {
			return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "reaction tray entry not found: " + reaction}
		}
	} else if !s.clickIfVisible(ctx, selReactionTrigger, 5*time.Second) {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "like button not found"}
	}

	log.Printf("[BROWSER] Reacted %s → %s", reaction, postURL)
	return map[string]any{"reaction": reaction}, nil
}

// commentOnPost posts a comment under a feed post.
func (s *session) commentOnPost(ctx context.Context, postURL, text string) (map[string]any, error) {
	if err := s.navigate(ctx, postURL, "/feed/update/"); err != nil {
		return nil, err
	}

	// The comment box may be collapsed until the Comment button is clicked.
	s.clickIfVisible(ctx, selCommentButton, 3*time.Second)

	if err := s.run(ctx,
		chromedp.WaitVisible(selCommentBox),
		chromedp.Click(selCommentBox),
		chromedp.SendKeys(selCommentBox, text),
		chromedp.Sleep(time.Second),
	); err != nil {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "comment box not usable: " + err.Error()}
	}
	if !s.clickIfVisible(ctx, selCommentSubmit, 5*time.Second) {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "comment submit button not found"}
	}

	log.Printf("[BROWSER] Comment posted → %s", postURL)
	return map[string]any{"comment_length": len(text)}, nil
}

// sendInMail sends an InMail from a premium account. Standard LinkedIn UI
// only.
func (s *session) sendInMail(ctx context.Context, profileURL, subject, body string) (map[string]any, error) {
	if err := s.navigate(ctx, profileURL, "/in/"); err != nil {
		return nil, err
	}

	if !s.clickIfVisible(ctx, selMessageButton, 5*time.Second) {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindNotAvailable, Message: "message entry point not found"}
	}

	// Distinguish the InMail compose surface from the plain message overlay;
	// non-premium accounts and blocked recipients never get it.
	composeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	composeErr := s.run(composeCtx, chromedp.WaitVisible(selInMailCompose))
	cancel()
	if composeErr != nil {
		if s.clickIfVisible(ctx, selNoCreditsBanner, time.Second) {
			return nil, &touchpoint.ExecError{Kind: touchpoint.KindNoCredits, Message: "no InMail credits remaining"}
		}
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindNotAvailable, Message: "InMail compose not available for this recipient"}
	}

	if subject != "" {
		if err := s.run(ctx,
			chromedp.WaitVisible(selInMailSubject),
			chromedp.SendKeys(selInMailSubject, subject),
		); err != nil {
			return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "subject field not found"}
		}
	}
	if err := s.run(ctx,
		chromedp.WaitVisible(selMessageBox),
		chromedp.Click(selMessageBox),
		chromedp.SendKeys(selMessageBox, body),
		chromedp.Sleep(time.Second),
	); err != nil {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "InMail body field not usable: " + err.Error()}
	}
	if !s.clickIfVisible(ctx, selMessageSend, 5*time.Second) {
		return nil, &touchpoint.ExecError{Kind: touchpoint.KindUIChanged, Message: "InMail send button not found"}
	}

	log.Printf("[BROWSER] InMail sent → %s", profileURL)
	return map[string]any{"status": "sent", "subject": subject}, nil
}
