package pipelinefile

import (
	"regexp"
	"slices"
	"strings"

	"github.com/vk/recsexplorer/internal/pipeline"
	"github.com/vk/recsexplorer/internal/selectors"
)

const shebang = "#!/usr/bin/env bash"

var shellSpecial = regexp.MustCompile(`[^a-zA-Z0-9_\-.,/:=@+%^~]`)

// ShellEscape quotes arg for a POSIX shell, leaving plain words untouched.
// Arguments holding a single quote use ANSI-C $'...' quoting.
func ShellEscape(arg string) string {
	switch {
	case arg == "":
		return "''"
	case !shellSpecial.MatchString(arg):
		return arg
	case !strings.Contains(arg, "'"):
		return "'" + arg + "'"
	}
	escaped := strings.ReplaceAll(arg, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "'", `\'`)
	return "$'" + escaped + "'"
}

func command(st pipeline.Stage) string {
	parts := []string{st.Config.OperationName}
	for _, a := range st.Config.Args {
		parts = append(parts, ShellEscape(a))
	}
	return strings.Join(parts, " ")
}

// PipeScript renders the enabled stages of the active fork as a bash script
// piping one recs process into the next. A file input's path is passed to
// the first command.
func PipeScript(s pipeline.State) string {
	stages := selectors.EnabledStages(s)
	if len(stages) == 0 {
		return shebang + "\n"
	}
	lines := make([]string, len(stages))
	for i, st := range stages {
		lines[i] = "recs " + command(st)
	}
	if in, ok := s.ActiveInput(); ok && in.Source.Kind == pipeline.SourceFile {
		lines[0] += " " + ShellEscape(in.Source.Path)
	}
	return shebang + "\n" + strings.Join(lines, " \\\n  | ") + "\n"
}

// ChainCommand renders the enabled stages as one `recs chain` command line.
func ChainCommand(s pipeline.State) string {
	stages := selectors.EnabledStages(s)
	if len(stages) == 0 {
		return "recs chain"
	}
	parts := make([]string, len(stages))
	for i, st := range stages {
		parts[i] = command(st)
	}
	return "recs chain " + strings.Join(parts, ` \| `)
}

func sortedInputIDs(s pipeline.State) []pipeline.InputID {
	ids := make([]pipeline.InputID, 0, len(s.Inputs))
	for id := range s.Inputs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
