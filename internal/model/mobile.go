package model

import "time"

// MobileSession is the short-lived pairing record behind a QR code.
type MobileSession struct {
	Token       string        `json:"token"`
	EncounterID string        `json:"encounterId"`
	UploadURL   string        `json:"mobileUploadUrl"`
	QR          string        `json:"qrRenderable,omitempty"`
	IssuedAt    time.Time     `json:"issuedAt"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt is IssuedAt + TTL.
func (m *MobileSession) ExpiresAt() time.Time {
	return m.IssuedAt.Add(m.TTL)
}

// Expired reports whether the session is past its TTL at now.
func (m *MobileSession) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt())
}

// Remaining is the time left before expiry, never negative.
func (m *MobileSession) Remaining(now time.Time) time.Duration {
	d := m.ExpiresAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// MobileImage is one relayed capture as returned by the relay's image
// listing. Data is populated when the listing inlines bytes (base64 on the
// wire); otherwise PreviewURL points at the normalized object.
type MobileImage struct {
	ID          string    `json:"id"`
	EncounterID string    `json:"encounterId"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	PreviewURL  string    `json:"previewUrl,omitempty"`
	Data        []byte    `json:"data,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Metadata    Metadata  `json:"metadata"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
