package model

import "fmt"

// Repositories the application knows how to fetch.
const (
	RepoTango            = "declare-lab/tango"
	RepoTangoAudioCaps   = "declare-lab/tango-full-ft-audiocaps"
	RepoScheduler        = "stabilityai/stable-diffusion-2-1"
	RepoTextEncoder      = "google/flan-t5-large"
	defaultRevision      = "main"
	SchedulerConfigFile  = "scheduler/scheduler_config.json"
	TokenizerModelFile   = "spiece.model"
	lockManifestFilename = "download-manifest.lock.json"
)

type Manifest struct {
	Repo  string      `json:"repo"`
	Files []ModelFile `json:"files"`
}

// ModelFile is one file of a repo snapshot. An empty SHA256 is resolved from
// the local lock manifest or HF metadata at download time.
type ModelFile struct {
	Filename string `json:"filename"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// CheckpointFiles are the files a Tango checkpoint directory must contain.
var CheckpointFiles = []string{
	"vae_config.json",
	"stft_config.json",
	"main_config.json",
	"pytorch_model_vae.bin",
	"pytorch_model_stft.bin",
	"pytorch_model_main.bin",
}

func PinnedManifest(repo string) (Manifest, error) {
	switch repo {
	case RepoTango, RepoTangoAudioCaps:
		files := make([]ModelFile, 0, len(CheckpointFiles))
		for _, name := range CheckpointFiles {
			files = append(files, ModelFile{Filename: name, Revision: defaultRevision})
		}
		return Manifest{Repo: repo, Files: files}, nil
	case RepoScheduler:
		return Manifest{
			Repo:  repo,
			Files: []ModelFile{{Filename: SchedulerConfigFile, Revision: defaultRevision}},
		}, nil
	case RepoTextEncoder:
		return Manifest{
			Repo:  repo,
			Files: []ModelFile{{Filename: TokenizerModelFile, Revision: defaultRevision}},
		}, nil
	default:
		return Manifest{}, fmt.Errorf("no pinned manifest for repo %q", repo)
	}
}

// IsCheckpointRepo reports whether repo holds Tango checkpoint files.
func IsCheckpointRepo(repo string) bool {
	return repo == RepoTango || repo == RepoTangoAudioCaps
}
