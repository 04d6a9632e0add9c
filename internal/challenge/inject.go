package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
)

// injectToken writes a solved token into the page at the type's known
// injection point and fires any registered provider callback so the site's
// own JS observes the solve.
func injectToken(ctx context.Context, page browser.Page, c *Challenge, token string) error {
	var expr string

	switch c.Type {
	case TypeRecaptchaV2, TypeRecaptchaV3:
		expr = fmt.Sprintf(`(function() {
			const el = document.getElementById("g-recaptcha-response");
			if (el) { el.innerHTML = %[1]q; el.value = %[1]q; }
			document.querySelectorAll('[data-callback]').forEach(function(node) {
				const cb = node.getAttribute('data-callback');
				if (window[cb]) window[cb](%[1]q);
			});
			return true;
		})()`, token)

	case TypeHCaptcha:
		expr = fmt.Sprintf(`(function() {
			const h = document.querySelector('[name="h-captcha-response"]');
			if (h) h.value = %[1]q;
			const g = document.querySelector('[name="g-recaptcha-response"]');
			if (g) g.value = %[1]q;
			return true;
		})()`, token)

	case TypeTurnstile:
		expr = fmt.Sprintf(`(function() {
			const el = document.querySelector('[name="cf-turnstile-response"]');
			if (el) el.value = %[1]q;
			return true;
		})()`, token)

	case TypeFunCaptcha:
		expr = fmt.Sprintf(`(function() {
			const existing = document.querySelector('input[name="fc-token"]');
			if (existing) existing.value = %[1]q;
			if (window.ArkoseEnforcement && window.ArkoseEnforcement.setSessionToken) {
				window.ArkoseEnforcement.setSessionToken(%[1]q);
			}
			document.querySelectorAll('form').forEach(function(form) {
				const input = document.createElement('input');
				input.type = 'hidden';
				input.name = 'fc-token';
				input.value = %[1]q;
				form.appendChild(input);
			});
			return true;
		})()`, token)

	default:
		return fmt.Errorf("no injection point for challenge type %q", c.Type)
	}

	var ok bool
	if err := page.Evaluate(ctx, expr, &ok); err != nil {
		return fmt.Errorf("token injection failed: %w", err)
	}

	// Give the provider widget a moment to propagate the token before the
	// caller re-checks markers.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
	}
	return nil
}
