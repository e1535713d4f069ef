// SPDX-License-Identifier: MPL-2.0

package container

// ApptainerEngine implements the Engine interface using the Apptainer CLI.
type ApptainerEngine struct {
	*sifEngine
}

var _ Engine = (*ApptainerEngine)(nil)

// NewApptainerEngine creates a new Apptainer engine storing SIF images
// under imageDir.
func NewApptainerEngine(imageDir string, opts ...BaseCLIEngineOption) *ApptainerEngine {
	return &ApptainerEngine{
		sifEngine: newSIFEngine(KindApptainer, imageDir, opts...),
	}
}
