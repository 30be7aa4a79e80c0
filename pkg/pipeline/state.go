package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spectrocloud-labs/herd"

	internalUtils "github.com/monokrome/mkOS/internal/utils"
	"github.com/monokrome/mkOS/pkg/disk"
	"github.com/monokrome/mkOS/pkg/manifest"
	"github.com/monokrome/mkOS/pkg/profile"
)

// State carries one pipeline invocation: the validated manifest, the
// resolved distro profile, and the artifacts the steps hand to each
// other. It lives for a single install or apply call.
type State struct {
	Logger   zerolog.Logger
	Manifest *manifest.InstallManifest
	Profile  *profile.DistroProfile
	Target   string

	layout   *disk.Layout
	mapper   string
	mounts   *disk.MountSet
	unmapped []string
}

// NewState resolves the profile and validates the manifest's structure.
func NewState(m *manifest.InstallManifest, target string) (*State, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	p, err := profile.ByID(m.Distro)
	if err != nil {
		return nil, err
	}
	return &State{
		Logger:   internalUtils.Log,
		Manifest: m,
		Profile:  p,
		Target:   target,
	}, nil
}

// Cleanup releases the scoped mounts and the decrypt mapping, reverse
// order, collecting failures. Safe to call whether or not the run got
// far enough to create either.
func (s *State) Cleanup() error {
	var firstErr error
	if s.mounts != nil {
		if err := s.mounts.Unmount(); err != nil {
			firstErr = err
		}
		s.mounts = nil
	}
	if s.mapper != "" {
		if err := disk.CloseLuks(s.mapper); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mapper = ""
	}
	return firstErr
}

// WriteDAG renders the graph layer by layer for debug output.
func (s *State) WriteDAG(g *herd.Graph) (out string) {
	for i, layer := range g.Analyze() {
		out += fmt.Sprintf("%d.\n", i+1)
		for _, op := range layer {
			if op.Error != nil {
				out += fmt.Sprintf(" <%s> (error: %s)\n", op.Name, op.Error.Error())
			} else {
				out += fmt.Sprintf(" <%s>\n", op.Name)
			}
		}
	}
	return
}

// LogIfError logs e with a message context, for op registration calls
// whose failure should not abort building the graph.
func (s *State) LogIfError(e error, msgContext string) {
	if e != nil {
		s.Logger.Err(e).Msg(msgContext)
	}
}
