package discovery

// languageMap maps file extensions and exact filenames to language tags.
var languageMap = map[string]string{
	".go": "go",

	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "typescript",
	".tsx": "typescript",

	".py":  "python",
	".pyw": "python",
	".pyi": "python",

	".html": "html",
	".htm":  "html",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".less": "less",

	".json":       "json",
	".yaml":       "yaml",
	".yml":        "yaml",
	".toml":       "toml",
	".xml":        "xml",
	".ini":        "ini",
	".conf":       "config",
	".properties": "properties",

	".md":       "markdown",
	".mdx":      "markdown",
	".markdown": "markdown",
	".rst":      "rst",
	".txt":      "text",

	".sh":   "shell",
	".bash": "shell",
	".zsh":  "shell",
	".fish": "fish",

	".rb":  "ruby",
	".rake": "ruby",
	".erb": "erb",

	".rs": "rust",

	".java": "java",
	".kt":   "kotlin",
	".kts":  "kotlin",

	".c":   "c",
	".h":   "c",
	".cpp": "cpp",
	".hpp": "cpp",
	".cc":  "cpp",
	".cxx": "cpp",

	".cs": "csharp",

	".swift": "swift",
	".php":   "php",
	".scala": "scala",

	".ex":  "elixir",
	".exs": "elixir",
	".erl": "erlang",

	".hs": "haskell",
	".lua": "lua",
	".r":  "r",
	".R":  "r",

	".sql": "sql",

	"Dockerfile": "dockerfile",

	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",

	".vue":     "vue",
	".svelte":  "svelte",
	".graphql": "graphql",
	".gql":     "graphql",
	".proto":   "protobuf",
}

// contentTypeMap maps a detected language to its broad content type.
var contentTypeMap = map[string]ContentType{
	"go": ContentTypeCode, "javascript": ContentTypeCode, "typescript": ContentTypeCode,
	"python": ContentTypeCode, "ruby": ContentTypeCode, "rust": ContentTypeCode,
	"java": ContentTypeCode, "kotlin": ContentTypeCode, "c": ContentTypeCode,
	"cpp": ContentTypeCode, "csharp": ContentTypeCode, "swift": ContentTypeCode,
	"php": ContentTypeCode, "scala": ContentTypeCode, "elixir": ContentTypeCode,
	"erlang": ContentTypeCode, "haskell": ContentTypeCode, "lua": ContentTypeCode,
	"r": ContentTypeCode, "sql": ContentTypeCode, "shell": ContentTypeCode,
	"fish": ContentTypeCode, "erb": ContentTypeCode, "vue": ContentTypeCode,
	"svelte": ContentTypeCode, "graphql": ContentTypeCode, "protobuf": ContentTypeCode,
	"html": ContentTypeCode, "css": ContentTypeCode, "scss": ContentTypeCode,
	"sass": ContentTypeCode, "less": ContentTypeCode,

	"markdown": ContentTypeMarkdown, "rst": ContentTypeMarkdown,

	"text": ContentTypeText,

	"json": ContentTypeConfig, "yaml": ContentTypeConfig, "toml": ContentTypeConfig,
	"xml": ContentTypeConfig, "ini": ContentTypeConfig, "config": ContentTypeConfig,
	"properties": ContentTypeConfig, "dockerfile": ContentTypeConfig, "makefile": ContentTypeConfig,
}

// shebangLanguage maps interpreter names found in a shebang line to a
// language tag, used as a tiebreak for extensionless scripts (spec §4.3
// "shebang/heuristic tiebreak").
var shebangLanguage = map[string]string{
	"python":  "python",
	"python3": "python",
	"ruby":    "ruby",
	"bash":    "shell",
	"sh":      "shell",
	"zsh":     "shell",
	"node":    "javascript",
	"perl":    "perl",
}

// DetectLanguage detects the language tag for path, consulting exact
// filename matches first, then extension, then falling back to an empty
// string (caller treats as plain text).
func DetectLanguage(path string) string {
	base := baseName(path)
	if lang, ok := languageMap[base]; ok {
		return lang
	}
	if ext := extension(path); ext != "" {
		if lang, ok := languageMap[ext]; ok {
			return lang
		}
	}
	return ""
}

// DetectLanguageWithShebang behaves like DetectLanguage but, when the
// extension/filename give no answer, consults the interpreter named in a
// shebang line (spec §4.3's extensionless-script tiebreak).
func DetectLanguageWithShebang(path string, firstLine string) string {
	if lang := DetectLanguage(path); lang != "" {
		return lang
	}
	interp := shebangInterpreter(firstLine)
	if interp == "" {
		return ""
	}
	return shebangLanguage[interp]
}

// shebangInterpreter extracts the interpreter basename from a "#!" line,
// e.g. "#!/usr/bin/env python3" -> "python3", "#!/bin/bash" -> "bash".
func shebangInterpreter(line string) string {
	if len(line) < 2 || line[0] != '#' || line[1] != '!' {
		return ""
	}
	rest := line[2:]
	fields := make([]string, 0, 2)
	start := 0
	for i := 0; i <= len(rest); i++ {
		if i == len(rest) || rest[i] == ' ' || rest[i] == '\t' {
			if i > start {
				fields = append(fields, rest[start:i])
			}
			start = i + 1
		}
	}
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if fields[0] != "" && baseName(fields[0]) == "env" && len(fields) > 1 {
		return baseName(last)
	}
	return baseName(fields[0])
}

// DetectContentType maps a detected language to its content type.
func DetectContentType(language string) ContentType {
	if ct, ok := contentTypeMap[language]; ok {
		return ct
	}
	return ContentTypeText
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

func extension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
