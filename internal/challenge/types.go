// Package challenge detects human-verification challenges on rendered pages
// and resolves them through a tiered fallback chain: automatic interaction,
// a paid solving service, then human escalation.
package challenge

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies a challenge provider family.
type Type string

const (
	TypeFunCaptcha  Type = "funcaptcha"
	TypeHCaptcha    Type = "hcaptcha"
	TypeTurnstile   Type = "turnstile"
	TypeRecaptchaV3 Type = "recaptcha_v3"
	TypeRecaptchaV2 Type = "recaptcha_v2"
	TypeImage       Type = "image"
	TypeUnknown     Type = "unknown"
)

// Tier names the strategy level that produced a resolution.
type Tier string

const (
	TierAuto    Tier = "auto"
	TierService Tier = "service"
	TierHuman   Tier = "human"
	TierNone    Tier = "none"
)

// Challenge is one detected verification challenge. Immutable after
// detection; consumed once by the resolver.
type Challenge struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	SiteKey      string    `json:"site_key,omitempty"`
	PageURL      string    `json:"page_url"`
	DetectedAt   time.Time `json:"detected_at"`
	SnapshotPath string    `json:"snapshot_path,omitempty"`

	// ServiceURL is the Arkose Labs enforcement endpoint, set only for
	// funcaptcha challenges. Solving services need it to target the right
	// deployment.
	ServiceURL string `json:"service_url,omitempty"`
}

// Resolution is the outcome of one resolution attempt. Appended to the
// metrics store; never mutated after creation.
type Resolution struct {
	ChallengeID string        `json:"challenge_id"`
	Success     bool          `json:"success"`
	Tier        Tier          `json:"tier"`
	Token       string        `json:"token,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
	Cost        float64       `json:"cost"`
	Err         string        `json:"error,omitempty"`
}

func newChallengeID() string {
	return uuid.NewString()[:16]
}
