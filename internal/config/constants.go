package config

import "strings"

// UnitFileExt is the extension of serialized units.
const UnitFileExt = ".rnu"

// UnitFileExtensions are all recognized unit file extensions
var UnitFileExtensions = []string{".rnu", ".runeu"}

// TrimUnitExt removes a recognized unit extension for display.
func TrimUnitExt(path string) string {
	for _, ext := range UnitFileExtensions {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}

// Configuration file names, in lookup order
const (
	YAMLConfigName = "runevm.yaml"
	YMLConfigName  = "runevm.yml"
	TOMLConfigName = "runevm.toml"
)

// Execution limits
const (
	// DefaultMaxFrames bounds the call depth before a StackOverflow panic.
	DefaultMaxFrames = 4096

	// DefaultMaxStack bounds the operand stack of one task.
	DefaultMaxStack = 1024 * 1024 // 1M values

	// DefaultCheckInterval is how many instructions run between context checks.
	DefaultCheckInterval = 1000
)

// Clock names
const (
	ClockVirtual = "virtual"
	ClockReal    = "real"
)

// Default entry function
const DefaultEntry = "main"

// Built-in type names
const (
	UnitTypeName     = "unit"
	BoolTypeName     = "bool"
	IntTypeName      = "int"
	FloatTypeName    = "float"
	CharTypeName     = "char"
	StringTypeName   = "String"
	BytesTypeName    = "Bytes"
	VecTypeName      = "Vec"
	ObjectTypeName   = "Object"
	TupleTypeName    = "Tuple"
	FunctionTypeName = "Function"
	FutureTypeName   = "Future"
	OptionTypeName   = "Option"
	ResultTypeName   = "Result"

	GeneratorTypeName      = "Generator"
	StreamTypeName         = "Stream"
	GeneratorStateTypeName = "GeneratorState"
)
