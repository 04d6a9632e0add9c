package challenge

import (
	"regexp"
	"strings"
	"time"
)

// Detection fingerprints in priority order. FunCaptcha is checked first
// because its instructional phrases co-occur with generic challenge markers
// and with hCaptcha-style sitekey attributes on some sites.
var fingerprints = []struct {
	typ      Type
	patterns []string
}{
	{TypeFunCaptcha, []string{
		"funcaptcha",
		"arkoselabs",
		"click on the point",
		"where the lines cross",
		"enforcement.arkoselabs",
		"drag the correct image",
		"complete the corresponding image",
		"please drag",
	}},
	{TypeHCaptcha, []string{
		`class="h-captcha"`,
		"hcaptcha.com/1/",
		"data-hcaptcha-sitekey",
	}},
	{TypeTurnstile, []string{
		"challenges.cloudflare.com/turnstile",
		"cf-turnstile",
	}},
	{TypeRecaptchaV3, []string{
		"grecaptcha.execute",
		"recaptcha/api.js?render=",
	}},
	{TypeRecaptchaV2, []string{
		`class="g-recaptcha"`,
		"grecaptcha.render",
		"www.google.com/recaptcha",
	}},
	{TypeImage, []string{
		"pick all squares",
		"select all images",
		"verify you are human",
	}},
}

var genericIndicators = []string{"captcha", "verify", "robot", "human"}

var (
	uuidSiteKeyRe = regexp.MustCompile(`(?i)data-sitekey=["']([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})["']`)
	uuidFormatRe  = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	siteKeyRe     = regexp.MustCompile(`data-sitekey=["']([^"']+)["']`)

	arkoseKeyRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)data-pkey=["']([^"']+)["']`),
		regexp.MustCompile(`(?i)publicKey["\s:]+["']([^"']+)["']`),
		regexp.MustCompile(`(?i)public_key["\s:]+["']([^"']+)["']`),
		regexp.MustCompile(`(?i)arkoselabs\.com/fc/gc/\?pk=([^&"']+)`),
		regexp.MustCompile(`(?i)data-sitekey=["']([0-9a-f-]{36})["']`),
	}

	fcTokenRe   = regexp.MustCompile(`(?i)name=["']fc-token["'][^>]*value=["']([^"']+)["']`)
	surlFieldRe = regexp.MustCompile(`surl=([^|&"']+)`)
	surlURLRes  = []*regexp.Regexp{
		regexp.MustCompile(`https://[a-z0-9-]+-api\.arkoselabs\.com`),
		regexp.MustCompile(`(?i)surl["\s:=]+["']?(https://[^"'>\s]+arkoselabs[^"'>\s]*)`),
	}
)

// Detect inspects rendered page markup for a verification challenge. It
// returns nil when no challenge fingerprint matches. Ordering is load
// bearing: specific provider fingerprints are checked before generic
// phrases so co-occurring markers resolve to the right provider.
func Detect(html, pageURL string) *Challenge {
	lower := strings.ToLower(html)

	detected := TypeUnknown
	siteKey := ""

	for _, fp := range fingerprints {
		for _, p := range fp.patterns {
			if strings.Contains(lower, strings.ToLower(p)) {
				detected = fp.typ
				break
			}
		}
		if detected != TypeUnknown {
			break
		}
	}

	if detected == TypeUnknown {
		generic := false
		for _, ind := range genericIndicators {
			if strings.Contains(lower, ind) {
				generic = true
				break
			}
		}
		if !generic {
			return nil
		}
		// A UUID-format sitekey on an otherwise generic page is Arkose.
		if m := uuidSiteKeyRe.FindStringSubmatch(html); m != nil {
			detected = TypeFunCaptcha
			siteKey = m[1]
		} else {
			detected = TypeImage
		}
	}

	switch detected {
	case TypeRecaptchaV2, TypeRecaptchaV3, TypeTurnstile:
		if m := siteKeyRe.FindStringSubmatch(html); m != nil {
			siteKey = m[1]
		}
	case TypeHCaptcha:
		if m := siteKeyRe.FindStringSubmatch(html); m != nil {
			siteKey = m[1]
			// Some sites ship Arkose keys inside hCaptcha-style markup.
			if uuidFormatRe.MatchString(siteKey) {
				detected = TypeFunCaptcha
			}
		}
	case TypeFunCaptcha:
		if siteKey == "" {
			for _, re := range arkoseKeyRes {
				if m := re.FindStringSubmatch(html); m != nil {
					siteKey = m[1]
					break
				}
			}
		}
	}

	c := &Challenge{
		ID:         newChallengeID(),
		Type:       detected,
		SiteKey:    siteKey,
		PageURL:    pageURL,
		DetectedAt: time.Now().UTC(),
	}

	if detected == TypeFunCaptcha {
		c.ServiceURL = arkoseServiceURL(html, pageURL)
	}

	return c
}

// arkoseServiceURL extracts the Arkose enforcement endpoint (surl), first
// from an embedded fc-token value, then from script/iframe markup, finally
// falling back to known per-site deployments.
func arkoseServiceURL(html, pageURL string) string {
	if m := fcTokenRe.FindStringSubmatch(html); m != nil {
		if sm := surlFieldRe.FindStringSubmatch(m[1]); sm != nil {
			return sm[1]
		}
	}

	for _, re := range surlURLRes {
		if m := re.FindStringSubmatch(html); m != nil {
			u := m[0]
			if len(m) > 1 && m[1] != "" {
				u = m[1]
			}
			u = strings.Split(u, `"`)[0]
			u = strings.Split(u, `'`)[0]
			return u
		}
	}

	lowerURL := strings.ToLower(pageURL)
	switch {
	case strings.Contains(lowerURL, "lever.co"):
		return "https://lever-api.arkoselabs.com"
	case strings.Contains(lowerURL, "spotify"):
		return "https://spotify-api.arkoselabs.com"
	case strings.Contains(lowerURL, "linkedin"):
		return "https://linkedin-api.arkoselabs.com"
	default:
		return "https://client-api.arkoselabs.com"
	}
}

// StillPresent reports whether the page still shows challenge markers.
// Used after token injection and during human-tier polling.
func StillPresent(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range []string{"captcha", "recaptcha", "hcaptcha", "verify you", "pick all"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
