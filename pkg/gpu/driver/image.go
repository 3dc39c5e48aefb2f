package driver

import (
	"regexp"
	"strings"
)

// ImageFormat is the encoding of a kernel artifact.
type ImageFormat int

const (
	// FormatCUDA is CUDA C source, compiled to PTX at load time.
	FormatCUDA ImageFormat = iota
	// FormatPTX is PTX device assembly, loaded as is.
	FormatPTX
	// FormatOpenCL is OpenCL C source, built at load time.
	FormatOpenCL
)

func (f ImageFormat) String() string {
	switch f {
	case FormatCUDA:
		return "cuda-c"
	case FormatPTX:
		return "ptx"
	case FormatOpenCL:
		return "opencl-c"
	}
	return "unknown"
}

// ModuleImage is a kernel artifact plus the options it is built with.
// Devices treat Source as opaque apart from locating its entry points.
type ModuleImage struct {
	Name    string
	Format  ImageFormat
	Source  string
	Options []string
}

var entryPatterns = map[ImageFormat]*regexp.Regexp{
	FormatCUDA:   regexp.MustCompile(`__global__\s+void\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
	FormatPTX:    regexp.MustCompile(`\.entry\s+([A-Za-z_$][A-Za-z0-9_$]*)\s*\(`),
	FormatOpenCL: regexp.MustCompile(`__kernel\s+void\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`),
}

// Entries returns the entry point names declared in the image, in source
// order. Line comments are ignored.
func (img ModuleImage) Entries() []string {
	re, ok := entryPatterns[img.Format]
	if !ok {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(stripLineComments(img.Source), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Define returns the value of a -DNAME=VALUE option, if present.
func (img ModuleImage) Define(name string) (string, bool) {
	prefix := "-D" + name + "="
	for _, opt := range img.Options {
		if strings.HasPrefix(opt, prefix) {
			return strings.TrimPrefix(opt, prefix), true
		}
	}
	return "", false
}

func stripLineComments(src string) string {
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		if j := strings.Index(l, "//"); j >= 0 {
			lines[i] = l[:j]
		}
	}
	return strings.Join(lines, "\n")
}
