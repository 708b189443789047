package businessflow

import (
	"context"
	"strings"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
)

// OwnerSettingsFlow reads and changes an owner's sending settings
type OwnerSettingsFlow interface {
	GetSettings(ctx context.Context, ownerID uint) (*dto.OwnerSettingsResponse, error)
	UpdateSettings(ctx context.Context, req *dto.UpdateOwnerSettingsRequest) (*dto.OwnerSettingsResponse, error)
}

type OwnerSettingsFlowImpl struct {
	ownerRepo repository.OwnerRepository
	box       services.SecretBox
}

func NewOwnerSettingsFlow(ownerRepo repository.OwnerRepository, box services.SecretBox) OwnerSettingsFlow {
	return &OwnerSettingsFlowImpl{ownerRepo: ownerRepo, box: box}
}

func (f *OwnerSettingsFlowImpl) GetSettings(ctx context.Context, ownerID uint) (*dto.OwnerSettingsResponse, error) {
	owner, err := f.owner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return toOwnerSettings(owner), nil
}

func (f *OwnerSettingsFlowImpl) UpdateSettings(ctx context.Context, req *dto.UpdateOwnerSettingsRequest) (*dto.OwnerSettingsResponse, error) {
	if _, err := f.owner(ctx, req.OwnerID); err != nil {
		return nil, err
	}

	updates := make(map[string]any)
	if req.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*req.DisplayName)
	}
	setOptional(updates, "webhook_url", req.WebhookURL)
	setOptional(updates, "relay_host", req.RelayHost)
	setOptional(updates, "relay_username", req.RelayUsername)
	setOptional(updates, "relay_from_email", req.RelayFromEmail)
	if req.RelayPort != nil {
		updates["relay_port"] = *req.RelayPort
	}
	if req.RelayPassword != nil {
		if *req.RelayPassword == "" {
			updates["relay_password_enc"] = nil
		} else {
			if f.box == nil {
				return nil, NewBusinessError("MISSING_CONFIG", "Relay secrets cannot be stored on this server", ErrTransportNotConfigured)
			}
			sealed, err := f.box.Seal(*req.RelayPassword)
			if err != nil {
				return nil, NewBusinessError("UPDATE_SETTINGS_FAILED", "Failed to encrypt relay password", err)
			}
			updates["relay_password_enc"] = sealed
		}
	}

	if len(updates) > 0 {
		if err := f.ownerRepo.UpdateSettings(ctx, req.OwnerID, updates); err != nil {
			return nil, NewBusinessError("UPDATE_SETTINGS_FAILED", "Failed to update settings", err)
		}
		utils.LogEvent("owner_settings_updated", map[string]any{"owner_id": req.OwnerID, "fields": len(updates)})
	}

	owner, err := f.owner(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	return toOwnerSettings(owner), nil
}

func (f *OwnerSettingsFlowImpl) owner(ctx context.Context, ownerID uint) (*models.Owner, error) {
	owner, err := f.ownerRepo.ByID(ctx, ownerID)
	if err != nil {
		return nil, NewBusinessError("OWNER_LOOKUP_FAILED", "Failed to lookup owner", err)
	}
	if owner == nil {
		return nil, NewBusinessError("OWNER_NOT_FOUND", "Owner not found", ErrOwnerNotFound)
	}
	return owner, nil
}

// setOptional leaves nil untouched and stores an empty string as NULL
func setOptional(updates map[string]any, column string, value *string) {
	if value == nil {
		return
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		updates[column] = nil
		return
	}
	updates[column] = v
}

func toOwnerSettings(o *models.Owner) *dto.OwnerSettingsResponse {
	return &dto.OwnerSettingsResponse{
		DisplayName:      o.DisplayName,
		Email:            o.Email,
		IsPremium:        o.IsPremium,
		MonthlySendCount: o.MonthlySendCount,
		QuotaPeriod:      o.QuotaPeriod,
		WebhookURL:       o.WebhookURL,
		RelayConfigured:  o.HasRelay(),
		RelayHost:        o.RelayHost,
		RelayPort:        o.RelayPort,
		RelayFromEmail:   o.RelayFromEmail,
	}
}
