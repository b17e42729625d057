package node

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ActorForth/ECash-SLPDB/config"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// rpcAddr returns the host:port the RPC server binds to.
func rpcAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.RPC.Addr, strconv.Itoa(cfg.RPC.Port))
}
