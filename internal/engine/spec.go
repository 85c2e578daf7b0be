package engine

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/tripsitter/tripsitter/internal/logger"
)

// Phase identifies which of the two engine invocations a process belongs to.
// Build produces the routing graph and is expected to exit; Serve loads the
// prebuilt graph and stays up serving HTTP.
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseServe Phase = "serve"
)

// DefaultJarURL is where the shaded engine jar is fetched from when
// AutoDownloadJar is enabled and JarPath does not exist.
const DefaultJarURL = "https://repo1.maven.org/maven2/org/opentripplanner/otp/1.1.0/otp-1.1.0-shaded.jar"

// Characters scrubbed from graph names before they become directory names.
const illegalPathChars = "()?"

// Spec describes the engine to be supervised.
type Spec struct {
	Name            string        `json:"name" mapstructure:"name"`                           // graph/router name
	JarPath         string        `json:"jar_path" mapstructure:"jar_path"`                   // path to the engine jar
	JavaBin         string        `json:"java_bin" mapstructure:"java_bin"`                   // java executable (default "java")
	JavaArgs        []string      `json:"java_args" mapstructure:"java_args"`                 // extra JVM flags, e.g. -Xmx4G
	GraphDir        string        `json:"graph_dir" mapstructure:"graph_dir"`                 // graph directory; also the process workdir
	Env             []string      `json:"env" mapstructure:"env"`                             // optional extra env
	AutoDownloadJar bool          `json:"auto_download_jar" mapstructure:"auto_download_jar"` // fetch the jar when missing
	JarURL          string        `json:"jar_url" mapstructure:"jar_url"`                     // override for the jar download URL
	Log             logger.Config `json:"log" mapstructure:"log"`                             // engine output log files
}

// ScrubName removes characters that are unsafe in graph directory names.
func ScrubName(name string) string {
	for _, c := range illegalPathChars {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	return name
}

func (s *Spec) javaBin() string {
	if s.JavaBin != "" {
		return s.JavaBin
	}
	return "java"
}

// BuildCommand constructs the phase-appropriate *exec.Cmd. The build phase
// points the engine at the input data directory; the serve phase points it at
// the prebuilt graph and the allocated ports. The working directory is the
// graph directory in both phases.
func (s *Spec) BuildCommand(phase Phase, httpPort, securePort int) *exec.Cmd {
	args := append([]string{}, s.JavaArgs...)
	args = append(args, "-jar", s.JarPath, "--basePath", ".")
	switch phase {
	case PhaseBuild:
		args = append(args, "--build", s.GraphDir)
	case PhaseServe:
		args = append(args,
			"--router", ScrubName(s.Name),
			"--port", strconv.Itoa(httpPort),
			"--securePort", strconv.Itoa(securePort),
			"--inMemory",
		)
	}
	// #nosec G204 -- the jar path and ports come from validated config
	cmd := exec.Command(s.javaBin(), args...)
	cmd.Dir = s.GraphDir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	return cmd
}
