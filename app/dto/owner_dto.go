package dto

// UpdateOwnerSettingsRequest changes display name, webhook and private relay.
// A nil field is left unchanged; an empty string clears it.
type UpdateOwnerSettingsRequest struct {
	OwnerID        uint    `json:"-"`
	DisplayName    *string `json:"display_name,omitempty" validate:"omitempty,max=255"`
	WebhookURL     *string `json:"webhook_url,omitempty" validate:"omitempty,url,max=2048"`
	RelayHost      *string `json:"relay_host,omitempty" validate:"omitempty,hostname|ip"`
	RelayPort      *int    `json:"relay_port,omitempty" validate:"omitempty,min=1,max=65535"`
	RelayUsername  *string `json:"relay_username,omitempty" validate:"omitempty,max=255"`
	RelayPassword  *string `json:"relay_password,omitempty" validate:"omitempty,max=1024"`
	RelayFromEmail *string `json:"relay_from_email,omitempty" validate:"omitempty,email"`
}

type OwnerSettingsResponse struct {
	DisplayName      string  `json:"display_name"`
	Email            string  `json:"email"`
	IsPremium        bool    `json:"is_premium"`
	MonthlySendCount int64   `json:"monthly_send_count"`
	QuotaPeriod      string  `json:"quota_period"`
	WebhookURL       *string `json:"webhook_url,omitempty"`
	RelayConfigured  bool    `json:"relay_configured"`
	RelayHost        *string `json:"relay_host,omitempty"`
	RelayPort        int     `json:"relay_port,omitempty"`
	RelayFromEmail   *string `json:"relay_from_email,omitempty"`
}
