package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/shlex"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/execution"
)

// LanguageInfo describes a configured language.
type LanguageInfo struct {
	Name                string `json:"name"`
	Kind                string `json:"kind"`
	SupportsDeclarative bool   `json:"supportsDeclarative"`
}

// Selector builds plans from the language table and project toolchain.
type Selector struct {
	sandbox config.SandboxConfig
	project config.ProjectConfig
	langs   map[string]compiledLanguage
	build   []string
	run     []string
	test    []string
}

type compiledLanguage struct {
	config.Language
	compile []string
	run     []string
}

// NewSelector parses every command template up front so a broken template is
// a startup error rather than a per-request failure.
func NewSelector(cfg *config.Config) (*Selector, error) {
	s := &Selector{
		sandbox: cfg.Sandbox,
		project: cfg.Project,
		langs:   make(map[string]compiledLanguage, len(cfg.Languages)),
	}

	for name, lang := range cfg.Languages {
		cl := compiledLanguage{Language: lang}
		var err error
		if lang.Kind == config.KindCompiled {
			if cl.compile, err = splitCommand(lang.CompileCmd, lang.SourceFile); err != nil {
				return nil, fmt.Errorf("languages.%s.compile_cmd: %w", name, err)
			}
		}
		if cl.run, err = splitCommand(lang.RunCmd, lang.SourceFile); err != nil {
			return nil, fmt.Errorf("languages.%s.run_cmd: %w", name, err)
		}
		s.langs[name] = cl
	}

	if len(cfg.Project.Languages) > 0 {
		var err error
		if s.build, err = splitCommand(cfg.Project.BuildCmd, cfg.Project.MainSource); err != nil {
			return nil, fmt.Errorf("project.build_cmd: %w", err)
		}
		if s.run, err = splitCommand(cfg.Project.RunCmd, cfg.Project.MainSource); err != nil {
			return nil, fmt.Errorf("project.run_cmd: %w", err)
		}
		if s.test, err = splitCommand(cfg.Project.TestCmd, cfg.Project.TestSource); err != nil {
			return nil, fmt.Errorf("project.test_cmd: %w", err)
		}
	}

	return s, nil
}

// splitCommand expands {source} and splits the template into argv.
func splitCommand(tpl, source string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, fmt.Errorf("command template is required")
	}
	fields, err := shlex.Split(strings.ReplaceAll(tpl, "{source}", source))
	if err != nil {
		return nil, fmt.Errorf("parse command template: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("command is empty after expansion")
	}
	return fields, nil
}

// Select returns the plan for the tuple. Unknown languages and unsupported
// project combinations are caller contract violations and return an error.
func (s *Selector) Select(language string, projectType execution.ProjectType, usesAnnotatedTests bool) (BuildPlan, error) {
	lang, ok := s.langs[language]
	if !ok {
		return BuildPlan{}, fmt.Errorf("unsupported language: %s", language)
	}

	var p BuildPlan
	switch projectType {
	case execution.ProjectDeclarative:
		if !s.SupportsDeclarative(language) {
			return BuildPlan{}, fmt.Errorf("declarative projects are not supported for %s", language)
		}
		if usesAnnotatedTests {
			p = s.declarativeTest(language)
		} else {
			p = s.declarativeRun(language)
		}
	case execution.ProjectStandalone:
		if lang.Kind == config.KindScripted {
			p = s.scripted(language, lang)
		} else {
			p = s.standalone(language, lang)
		}
	default:
		return BuildPlan{}, fmt.Errorf("unsupported project type: %s", projectType)
	}

	return p.Clone(), nil
}

func (s *Selector) standalone(name string, lang compiledLanguage) BuildPlan {
	timeout := s.sandbox.ExecutionTimeout()
	return BuildPlan{
		Kind:      KindStandaloneCompileRun,
		Language:  name,
		Toolchain: lang.Toolchain,
		Image:     lang.Image,
		Steps: []Step{
			{Name: "compile", Kind: StepBuild, Args: lang.compile, Timeout: timeout},
			{Name: "run", Kind: StepRun, Args: lang.run, Timeout: timeout, Stdin: true},
		},
		Total:             timeout,
		Layout:            Layout{Source: lang.SourceFile},
		ExecutableStorage: lang.ExecStorage,
		Env:               lang.Environment,
	}
}

func (s *Selector) scripted(name string, lang compiledLanguage) BuildPlan {
	timeout := s.sandbox.ExecutionTimeout()
	return BuildPlan{
		Kind:      KindScriptedRun,
		Language:  name,
		Toolchain: lang.Toolchain,
		Image:     lang.Image,
		Steps: []Step{
			{Name: "run", Kind: StepRun, Args: lang.run, Timeout: timeout, Stdin: true},
		},
		Total:             timeout,
		Layout:            Layout{Source: lang.SourceFile},
		ExecutableStorage: lang.ExecStorage,
		Env:               lang.Environment,
	}
}

func (s *Selector) declarativeTest(name string) BuildPlan {
	p := s.declarativeBase(name, s.project.TestSource)
	p.Kind = KindDeclarativeBuildAndTest
	p.Steps = []Step{
		{Name: "build-and-test", Kind: StepTest, Args: s.test, Timeout: s.sandbox.BuildTimeout()},
	}
	return p
}

func (s *Selector) declarativeRun(name string) BuildPlan {
	p := s.declarativeBase(name, s.project.MainSource)
	p.Kind = KindDeclarativeBuildAndRun
	p.Steps = []Step{
		{Name: "build", Kind: StepBuild, Args: s.build, Timeout: s.sandbox.BuildTimeout()},
		{Name: "run", Kind: StepRun, Args: s.run, Timeout: s.sandbox.DeclarativeRunTimeout(), Stdin: true},
	}
	return p
}

func (s *Selector) declarativeBase(name, source string) BuildPlan {
	p := BuildPlan{
		Language:  name,
		Toolchain: s.project.Toolchain,
		Image:     s.project.Image,
		Total:     s.sandbox.PlanCeiling(),
		Layout: Layout{
			Source:     source,
			Descriptor: s.project.DescriptorFile,
		},
		// build tools load plugins and generated classes from the workspace
		ExecutableStorage: true,
		NeedsNetwork:      s.sandbox.DependencyNetwork,
		Env:               s.project.Environment,
	}
	if s.project.CacheDir != "" {
		p.Cache = &Cache{Path: s.project.CacheDir, SizeMB: s.project.CacheSizeMB}
	}
	return p
}

// Has reports whether the language is configured.
func (s *Selector) Has(language string) bool {
	_, ok := s.langs[language]
	return ok
}

// SupportsDeclarative reports whether the language can be built as a project.
func (s *Selector) SupportsDeclarative(language string) bool {
	return s.build != nil && s.project.SupportsLanguage(language)
}

// Languages lists the configured languages sorted by name.
func (s *Selector) Languages() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(s.langs))
	for name, lang := range s.langs {
		out = append(out, LanguageInfo{
			Name:                name,
			Kind:                lang.Kind,
			SupportsDeclarative: s.SupportsDeclarative(name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
