package model

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GenerateHolderID produces a lock-holder identity unique across the
// cooperating worker processes: worker_<pid>_<uuid8>.
func GenerateHolderID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("worker_%d_%s", os.Getpid(), suffix)
}
