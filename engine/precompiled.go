package engine

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

// Precompiled artifact layout:
//
//	"WBPC" | version u8 | uleb len + wazero version | uleb len + GOARCH | module binary
//
// The header pins the artifact to one engine build and architecture.
var envelopeMagic = []byte("WBPC")

const envelopeVersion = 1

var (
	engineVersionOnce sync.Once
	engineVersion     string
)

// EngineVersion returns the version of the wazero module linked into this
// build, or "devel" when build info is unavailable.
func EngineVersion() string {
	engineVersionOnce.Do(func() {
		engineVersion = "devel"
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, dep := range info.Deps {
			if dep.Path == "github.com/tetratelabs/wazero" {
				engineVersion = dep.Version
				if dep.Replace != nil {
					engineVersion = dep.Replace.Version
				}
				return
			}
		}
	})
	return engineVersion
}

// Serialize produces a precompiled artifact for m. The result is only
// loadable by a build with the same engine version and architecture.
func Serialize(m *Module) []byte {
	return appendEnvelope(nil, EngineVersion(), runtime.GOARCH, m.Binary())
}

func appendEnvelope(dst []byte, version, arch string, bin []byte) []byte {
	dst = append(dst, envelopeMagic...)
	dst = append(dst, envelopeVersion)
	dst = wasm.AppendUleb128(dst, uint64(len(version)))
	dst = append(dst, version...)
	dst = wasm.AppendUleb128(dst, uint64(len(arch)))
	dst = append(dst, arch...)
	return append(dst, bin...)
}

// decodeEnvelope checks the artifact header against this build and returns
// the embedded module binary.
func decodeEnvelope(b []byte) ([]byte, error) {
	if !bytes.HasPrefix(b, envelopeMagic) {
		return nil, errors.Parse(errors.PhaseCompile, "precompiled artifact", fmt.Errorf("bad magic"))
	}
	b = b[len(envelopeMagic):]
	if len(b) == 0 {
		return nil, errors.Parse(errors.PhaseCompile, "precompiled artifact", fmt.Errorf("truncated header"))
	}
	if b[0] != envelopeVersion {
		return nil, incompatible("format version", fmt.Sprint(envelopeVersion), fmt.Sprint(b[0]))
	}
	b = b[1:]

	version, b, err := readString(b)
	if err != nil {
		return nil, err
	}
	arch, b, err := readString(b)
	if err != nil {
		return nil, err
	}
	if version != EngineVersion() {
		return nil, incompatible("engine version", EngineVersion(), version)
	}
	if arch != runtime.GOARCH {
		return nil, incompatible("architecture", runtime.GOARCH, arch)
	}
	return b, nil
}

func readString(b []byte) (string, []byte, error) {
	n, size, err := wasm.ReadUleb128(b, 32)
	if err != nil {
		return "", nil, errors.Parse(errors.PhaseCompile, "precompiled artifact", err)
	}
	b = b[size:]
	if uint64(len(b)) < n {
		return "", nil, errors.Parse(errors.PhaseCompile, "precompiled artifact", fmt.Errorf("truncated header"))
	}
	return string(b[:n]), b[n:], nil
}

func incompatible(what, want, got string) error {
	return errors.New(errors.PhaseCompile, errors.KindIncompatible).
		Expected(want).
		Actual(got).
		Detail("precompiled artifact %s mismatch, recompile from source", what).
		Build()
}
