package handlers

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// newDeployID implements spec.md §3's deploy_id shape:
// YYYYMMDD-HHMMSS-<10 lowercase-alnum>.
func newDeployID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")
	return now.UTC().Format("20060102-150405") + "-" + suffix[:10]
}
