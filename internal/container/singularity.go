// SPDX-License-Identifier: MPL-2.0

package container

// SingularityEngine implements the Engine interface using the Singularity
// CLI. Singularity is the pre-rename lineage of Apptainer and accepts the
// same arguments, so the engine differs from ApptainerEngine only in the
// binary it resolves.
type SingularityEngine struct {
	*sifEngine
}

var _ Engine = (*SingularityEngine)(nil)

// NewSingularityEngine creates a new Singularity engine storing SIF images
// under imageDir.
func NewSingularityEngine(imageDir string, opts ...BaseCLIEngineOption) *SingularityEngine {
	return &SingularityEngine{
		sifEngine: newSIFEngine(KindSingularity, imageDir, opts...),
	}
}
