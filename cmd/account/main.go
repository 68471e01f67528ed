// Command openportal-account runs an Account leaf agent: the directory
// fronting a FreeIPA-like user/project store, answering AddUser/RemoveUser,
// local-user mapping, and project management instructions.
package main

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/agentcore"
	"github.com/openportal/mesh/internal/handler"
	"github.com/openportal/mesh/internal/leaf"
	"github.com/openportal/mesh/internal/registry"
)

var version = "dev"

func main() {
	bin := agentcore.Binary{
		Service: "account",
		Type:    registry.TypeAccount,
		Engine:  "openportal-go",
		Version: version,
		NewRunner: func(logger *zap.Logger) handler.Runner {
			return leaf.NewAccountStore(protectedUsers(), logger)
		},
	}
	if err := bin.Command().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// protectedUsers reads the comma-separated OPENPORTAL_PROTECTED_USERS
// environment variable naming accounts is_protected_user must never allow
// RemoveUser to delete (service accounts, administrators).
func protectedUsers() []string {
	raw := os.Getenv("OPENPORTAL_PROTECTED_USERS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
