// Package system provides identifier and secret generation shared across
// the service.
package system

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	OrganizationPrefix  = "org_"
	ProjectPrefix       = "prj_"
	WorkItemPrefix      = "wi_"
	BranchPrefix        = "brn_"
	ChangeRequestPrefix = "cr_"
)

func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateID returns a prefixed, lexicographically sortable identifier.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s%s", prefix, ulid.Make().String())
}

func GenerateOrganizationID() string {
	return GenerateID(OrganizationPrefix)
}

func GenerateProjectID() string {
	return GenerateID(ProjectPrefix)
}

func GenerateWorkItemID() string {
	return GenerateID(WorkItemPrefix)
}

func GenerateBranchID() string {
	return GenerateID(BranchPrefix)
}

func GenerateChangeRequestID() string {
	return GenerateID(ChangeRequestPrefix)
}

// GenerateWebhookSecret returns a fresh 256-bit random secret encoded for
// safe transport in webhook configuration.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
