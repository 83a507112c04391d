package vision

import (
	"context"
	"fmt"
	"strings"

	"visionsdk/internal/install"
	"visionsdk/internal/shm"
)

// sharedMemoryMinVersion is the first server release that reads pixels from
// shared memory.
var sharedMemoryMinVersion = install.MustParseVersion("3.18.0")

// unknownVersion stands for servers that predate /version or answer with
// something that is not a version.
const unknownVersion = "v0.0.0"

// ServerVersion returns the normalized server version ("v3.19.2",
// "v3.19.0.post1"). Servers without a usable /version report "v0.0.0". A
// successful answer is cached for the life of the instance.
func (i *Instance) ServerVersion(ctx context.Context) (string, error) {
	i.verMu.Lock()
	v := i.version
	i.verMu.Unlock()
	if v != "" {
		return v, nil
	}

	resp, body, err := i.get(ctx, endpointVersion, "/version", DefaultVersionTimeout)
	if err != nil {
		return "", fmt.Errorf("query server version: %w", err)
	}
	v = unknownVersion
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		v = parseServerVersion(string(body))
	}
	i.verMu.Lock()
	i.version = v
	i.verMu.Unlock()
	return v, nil
}

// parseServerVersion turns the /version body into a normalized version.
func parseServerVersion(s string) string {
	v, ok := install.ParseVersion(strings.Trim(strings.TrimSpace(s), `"'`))
	if !ok {
		return unknownVersion
	}
	return v.String()
}

// canUseSharedMemory reports whether pixel arrays may go through shared
// memory: the host is this machine, the platform has named segments and the
// server is new enough. A failed version query is not cached.
func (i *Instance) canUseSharedMemory(ctx context.Context) bool {
	i.verMu.Lock()
	checked, ok := i.shmChecked, i.shmOK
	i.verMu.Unlock()
	if checked {
		return ok
	}

	if !shm.Supported() {
		i.setSharedMemory(false)
		return false
	}
	local, err := i.localCheck(i.host)
	if err != nil {
		i.log.Warn().Err(err).Str("host", i.host).Msg("list local addresses")
	}
	if !local {
		i.setSharedMemory(false)
		return false
	}
	v, err := i.ServerVersion(ctx)
	if err != nil {
		i.log.Warn().Err(err).Msg("server version unknown, sending raw pixels")
		return false
	}
	cur, parsed := install.ParseVersion(v)
	ok = parsed && cur.Compare(sharedMemoryMinVersion) >= 0
	i.setSharedMemory(ok)
	return ok
}

func (i *Instance) setSharedMemory(ok bool) {
	i.verMu.Lock()
	i.shmChecked, i.shmOK = true, ok
	i.verMu.Unlock()
	i.log.Debug().Bool("shared_memory", ok).Msg("pixel transport selected")
}
