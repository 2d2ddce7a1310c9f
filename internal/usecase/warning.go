package usecase

import (
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
)

// WarningTitle is the title of every warning notification.
const WarningTitle = "Usage limit warning"

// FormatTimeRemaining renders the grace period between the warning and kill
// thresholds: whole minutes from one minute up, seconds below.
func FormatTimeRemaining(remaining time.Duration) string {
	if remaining < 0 {
		remaining = 0
	}
	if remaining >= time.Minute {
		return fmt.Sprintf("%d minutes", int(remaining/time.Minute))
	}
	return fmt.Sprintf("%d seconds", int(remaining/time.Second))
}

// FormatWarningMessage builds the text shown when a warning threshold is crossed.
func FormatWarningMessage(displayName string, isWebsite bool, warning, kill time.Duration) string {
	msg := fmt.Sprintf("WARNING: You have been using %s for an extended period.", displayName)
	if kill <= 0 {
		return msg
	}
	subject := "The application"
	if isWebsite {
		subject = "The website"
	}
	return fmt.Sprintf("%s %s will close in %s once you select OK and usage continues.",
		msg, subject, FormatTimeRemaining(kill-warning))
}

// newWarning assembles the notifier payload for a limit.
func newWarning(limit domain.Limit) domain.Warning {
	website := domain.IsWebsiteLimit(limit)
	display := displayName(limit, website)

	remaining := time.Duration(0)
	if limit.KillDuration > 0 {
		remaining = limit.KillDuration - limit.WarningDuration
		if remaining < 0 {
			remaining = 0
		}
	}

	return domain.Warning{
		Key:           limit.Key,
		DisplayName:   display,
		Title:         WarningTitle,
		Message:       FormatWarningMessage(display, website, limit.WarningDuration, limit.KillDuration),
		TimeRemaining: remaining,
		IsWebsite:     website,
	}
}

func displayName(limit domain.Limit, website bool) string {
	if website {
		return domain.WebsiteKey(limit.Key)
	}
	return domain.ProcessNameFromPath(limit.Key)
}
