package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"mediaminer/internal/config"
)

// Requirement is an external binary MediaMiner may invoke.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Path        string `json:"path,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// RequirementsFromConfig lists the binaries used to bring up the local model
// server. Nothing is required when auto start is off. Both commands usually
// share a binary, which is listed once.
func RequirementsFromConfig(ls config.LocalServer) []Requirement {
	if !ls.AutoStart {
		return nil
	}
	var reqs []Requirement
	seen := map[string]bool{}
	add := func(argv []string, description string) {
		if len(argv) == 0 {
			return
		}
		bin := strings.TrimSpace(argv[0])
		if bin == "" || seen[bin] {
			return
		}
		seen[bin] = true
		reqs = append(reqs, Requirement{
			Name:        bin,
			Command:     bin,
			Description: description,
			Optional:    true,
		})
	}
	add(ls.StartCommand, "Starts the local model server")
	add(ls.LoadCommand, "Loads the local model")
	return reqs
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}
