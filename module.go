package quickjs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
)

// =============================================================================
// MODULE TYPES AND STRUCTURES
// =============================================================================

type moduleState int

const (
	moduleLinked moduleState = iota
	moduleEvaluating
	moduleEvaluated
)

// ModuleDef is the payload of a Module value: a named module and its exports object.
type ModuleDef struct {
	name    JSAtom
	exports JSValue
	source  string
	state   moduleState
}

// ModuleNormalizeFunc resolves the name of an imported module against the name of the
// importing module. baseName is empty for imports from the host.
type ModuleNormalizeFunc func(ctx *Context, baseName, name string, opaque any) (string, error)

// ModuleLoaderFunc returns the source code of a module by its normalized name.
type ModuleLoaderFunc func(ctx *Context, name string, opaque any) (string, error)

// PromiseRejectionTracker is told about promises rejected without a handler, and again with
// isHandled set when a handler is attached later.
type PromiseRejectionTracker func(ctx *Context, promise, reason Value, isHandled bool)

// DefaultModuleNormalize resolves "./" and "../" names relative to the importing module; other
// names are returned unchanged.
func DefaultModuleNormalize(_ *Context, baseName, name string, _ any) (string, error) {
	if !strings.HasPrefix(name, "./") && !strings.HasPrefix(name, "../") {
		return name, nil
	}
	resolved := path.Join(path.Dir(baseName), name)
	if strings.HasPrefix(resolved, "../") || resolved == ".." {
		return "", fmt.Errorf("module name %q escapes the root from %q", name, baseName)
	}
	return resolved, nil
}

// SetModuleLoaderFunc installs the module collaborators. A nil normalizer selects
// DefaultModuleNormalize; a nil loader reads modules from the file system.
func (r *Runtime) SetModuleLoaderFunc(normalize ModuleNormalizeFunc, loader ModuleLoaderFunc, opaque any) {
	r.mustOwn()
	if normalize == nil {
		normalize = DefaultModuleNormalize
	}
	r.moduleNormalizer = normalize
	r.moduleLoader = loader
	r.moduleOpaque = opaque
}

// SetHostPromiseRejectionTracker installs the unhandled rejection tracker; nil removes it.
func (r *Runtime) SetHostPromiseRejectionTracker(tracker PromiseRejectionTracker) {
	r.mustOwn()
	r.rejectionTracker = tracker
}

func (r *Runtime) trackRejection(ctx *Context, promise, reason JSValue, isHandled bool) {
	if r.rejectionTracker == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("promise rejection tracker panicked", zap.Any("panic", p))
		}
	}()
	r.rejectionTracker(ctx, ctx.wrap(promise), ctx.wrap(reason), isHandled)
}

// ModuleExportEntry represents a single module export
type ModuleExportEntry struct {
	Name  string // Export name ("default" for default export)
	Value Value  // Export value
}

// ModuleBuilder provides a fluent API for building JavaScript modules
// Uses builder pattern for easy and readable module definition
type ModuleBuilder struct {
	name    string              // Module name
	exports []ModuleExportEntry // All exports (including default)
}

// =============================================================================
// MODULE BUILDER API
// =============================================================================

// NewModuleBuilder creates a new ModuleBuilder with the specified name
// This is the entry point for building JavaScript modules
func NewModuleBuilder(name string) *ModuleBuilder {
	return &ModuleBuilder{
		name:    name,
		exports: make([]ModuleExportEntry, 0),
	}
}

// Export adds an export to the module. The value is consumed by Build.
// For default export, use name="default"
func (mb *ModuleBuilder) Export(name string, value Value) *ModuleBuilder {
	mb.exports = append(mb.exports, ModuleExportEntry{
		Name:  name,
		Value: value,
	})
	return mb
}

// Build creates and registers the JavaScript module in the given context
// The module will be available for import in JavaScript code
func (mb *ModuleBuilder) Build(ctx *Context) error {
	return createModule(ctx, mb)
}

// validateModuleBuilder validates ModuleBuilder configuration
func validateModuleBuilder(builder *ModuleBuilder) error {
	if builder.name == "" {
		return errors.New("module name cannot be empty")
	}

	// Check for duplicate export names
	nameSet := make(map[string]bool)
	for _, export := range builder.exports {
		if export.Name == "" {
			return errors.New("export name cannot be empty")
		}
		if nameSet[export.Name] {
			return fmt.Errorf("duplicate export name: %s", export.Name)
		}
		nameSet[export.Name] = true
	}

	return nil
}

// createModule registers an already evaluated module whose exports are the builder values.
func createModule(ctx *Context, builder *ModuleBuilder) error {
	if err := validateModuleBuilder(builder); err != nil {
		return fmt.Errorf("module validation failed: %v", err)
	}
	ctx.rt.mustOwn()

	m := ctx.newModule(builder.name, "")
	if m.IsException() {
		return ctx.Exception()
	}
	def := ctx.rt.cellOf(m).mod
	for _, export := range builder.exports {
		if ctx.defineValueStr(def.exports, export.Name, ctx.raw(export.Value), PropertyEnumerable|PropertyWritable) < 0 {
			ctx.rt.free(m)
			return ctx.Exception()
		}
	}
	def.state = moduleEvaluated
	ctx.registerModule(builder.name, m)
	return nil
}

// =============================================================================
// MODULE RECORDS
// =============================================================================

func (ctx *Context) newModule(name, source string) JSValue {
	r := ctx.rt
	exports := ctx.newObjectProtoClass(ctx.objectProto, ClassModuleNS)
	if exports.IsException() {
		return exports
	}
	h, c, err := r.allocCell(TagModule, cellHeaderSize+moduleSize+len(source))
	if err != nil {
		r.free(exports)
		return ctx.throwOutOfMemory()
	}
	c.mod = &ModuleDef{name: r.atoms.newAtom(name), exports: exports, source: source}
	return makeRef(TagModule, h)
}

// registerModule stores a module cell under its name, replacing an older definition. m is
// consumed.
func (ctx *Context) registerModule(name string, m JSValue) {
	if old, ok := ctx.modules[name]; ok {
		ctx.rt.free(old)
	}
	ctx.modules[name] = m
	ctx.rt.logger.Debug("module registered", zap.String("module", name))
}

// defineModule registers a module that runs on its first import.
func (ctx *Context) defineModule(name, code string) JSValue {
	m := ctx.newModule(name, code)
	if m.IsException() {
		return m
	}
	ctx.registerModule(name, m)
	return Undefined
}

// evalModule registers and runs a module and returns its exports object.
func (ctx *Context) evalModule(code, name string) JSValue {
	if res := ctx.defineModule(name, code); res.IsException() {
		return res
	}
	return ctx.importModule("", name)
}

// Import loads a module through the module loader, runs it if needed and returns its exports
// object.
func (ctx *Context) Import(name string) (Value, error) {
	ctx.rt.mustOwn()
	if err := ctx.checkEval(); err != nil {
		return ctx.Null(), err
	}
	val := ctx.importModule("", name)
	if val.IsException() {
		return ctx.wrap(val), ctx.Exception()
	}
	return ctx.wrap(val), nil
}

// importModule resolves name against baseName and returns an owned reference to the exports.
func (ctx *Context) importModule(baseName, name string) JSValue {
	r := ctx.rt
	resolved, err := r.moduleNormalizer(ctx, baseName, name, r.moduleOpaque)
	if err != nil {
		return ctx.throwError(ReferenceError, "could not resolve module %q: %s", name, err)
	}
	m, ok := ctx.modules[resolved]
	if !ok {
		source, err := ctx.loadModuleSource(resolved)
		if err != nil {
			return ctx.throwError(ReferenceError, "could not load module %q: %s", resolved, err)
		}
		if res := ctx.defineModule(resolved, source); res.IsException() {
			return res
		}
		m = ctx.modules[resolved]
	}
	m = r.dup(m)
	defer r.free(m)
	if res := ctx.runModule(resolved, r.cellOf(m).mod); res.IsException() {
		return res
	}
	return r.dup(r.cellOf(m).mod.exports)
}

func (ctx *Context) loadModuleSource(name string) (string, error) {
	r := ctx.rt
	r.logger.Debug("loading module", zap.String("module", name))
	if r.moduleLoader != nil {
		return r.moduleLoader(ctx, name, r.moduleOpaque)
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// moduleWrapper turns module code into a function expression. The code stays on the first line
// so that line numbers in stack traces match the source.
const moduleWrapper = "(function (exports, require, module, __filename, __dirname) {"

// runModule evaluates a linked module once. A module that is still evaluating, because of a
// circular import, exposes the exports defined so far.
func (ctx *Context) runModule(name string, def *ModuleDef) JSValue {
	if def.state != moduleLinked {
		return Undefined
	}
	def.state = moduleEvaluating
	r := ctx.rt

	source := moduleWrapper + rewriteModuleSyntax(def.source) + "\n})"
	fn := ctx.raw(ctx.evaluator.Eval(source, &EvalOptions{Global: true, FileName: name}))
	if fn.IsException() {
		def.state = moduleLinked
		return fn
	}
	defer r.free(fn)

	module := ctx.newObject()
	if module.IsException() {
		def.state = moduleLinked
		return module
	}
	defer r.free(module)
	ctx.defineValue(module, atomExports, r.dup(def.exports), PropertyDefault)
	ctx.defineValueStr(module, "id", ctx.newStringValue(name), PropertyDefault)

	require := ctx.newRequire(name)
	defer r.free(require)
	args := []JSValue{def.exports, require, module, ctx.newStringValue(name), ctx.newStringValue(path.Dir(name))}
	defer r.free(args[3])
	defer r.free(args[4])

	res := ctx.callInternal(fn, Undefined, args, 0)
	if res.IsException() {
		def.state = moduleLinked
		return res
	}
	r.free(res)

	exports := ctx.getProperty(module, atomExports, module)
	if exports.IsException() {
		def.state = moduleLinked
		return exports
	}
	if r.sameValue(exports, def.exports) {
		r.free(exports)
	} else {
		old := def.exports
		def.exports = exports
		r.free(old)
	}
	def.state = moduleEvaluated
	r.logger.Debug("module evaluated", zap.String("module", name))
	return Undefined
}

// newRequire returns a require function resolving names relative to baseName.
func (ctx *Context) newRequire(baseName string) JSValue {
	return ctx.newCFunction("require", 1, func(ctx *Context, _, _ Value, args []Value, _ CallFlags) (Value, error) {
		if len(args) == 0 || !args[0].IsString() {
			return ctx.ThrowTypeError("require expects a module name"), nil
		}
		return ctx.wrap(ctx.importModule(baseName, args[0].String())), nil
	}, false)
}

// installRequire defines the global require function.
func (ctx *Context) installRequire() {
	ctx.defineValueStr(ctx.globals, "require", ctx.newRequire(""), PropertyWritable|PropertyConfigurable)
}

// =============================================================================
// MODULE SYNTAX
// =============================================================================

// Module code may use the static import and export forms below. They are rewritten line by line
// into require calls and assignments to exports.
var (
	reImportNamespace = regexp2.MustCompile(`^[ \t]*import\s+\*\s+as\s+([\w$]+)\s+from\s+(['"][^'"]+['"])[ \t]*;?`, regexp2.Multiline)
	reImportNamed     = regexp2.MustCompile(`^[ \t]*import\s+(?:([\w$]+)\s*,\s*)?\{([^}]*)\}\s*from\s+(['"][^'"]+['"])[ \t]*;?`, regexp2.Multiline)
	reImportDefault   = regexp2.MustCompile(`^[ \t]*import\s+([\w$]+)\s+from\s+(['"][^'"]+['"])[ \t]*;?`, regexp2.Multiline)
	reImportBare      = regexp2.MustCompile(`^[ \t]*import\s+(['"][^'"]+['"])[ \t]*;?`, regexp2.Multiline)
	reExportDefault   = regexp2.MustCompile(`^([ \t]*)export\s+default\s+`, regexp2.Multiline)
	reExportDecl      = regexp2.MustCompile(`^([ \t]*)export\s+(const|let|var|function\*?|async\s+function|class)\s+([\w$]+)`, regexp2.Multiline)
	reExportList      = regexp2.MustCompile(`^[ \t]*export\s*\{([^}]*)\}(?:\s*from\s+(['"][^'"]+['"]))?[ \t]*;?`, regexp2.Multiline)
)

type specifier struct {
	local, exported string
}

func parseSpecifiers(list string) []specifier {
	var specs []specifier
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		local, exported, ok := strings.Cut(part, " as ")
		local = strings.TrimSpace(local)
		if !ok {
			exported = local
		}
		specs = append(specs, specifier{local: local, exported: strings.TrimSpace(exported)})
	}
	return specs
}

func group(m regexp2.Match, n int) string {
	if g := m.GroupByNumber(n); g != nil {
		return g.String()
	}
	return ""
}

func replaceAll(re *regexp2.Regexp, src string, fn func(m regexp2.Match) string) string {
	out, err := re.ReplaceFunc(src, fn, -1, -1)
	if err != nil {
		return src
	}
	return out
}

// rewriteModuleSyntax converts import and export statements. Declarations keep their place;
// their exports are assigned after the module body so that hoisted functions and later
// initializers are visible.
func rewriteModuleSyntax(src string) string {
	var tail []string

	src = replaceAll(reImportNamespace, src, func(m regexp2.Match) string {
		return fmt.Sprintf("const %s = require(%s);", group(m, 1), group(m, 2))
	})
	src = replaceAll(reImportNamed, src, func(m regexp2.Match) string {
		var binds []string
		for _, s := range parseSpecifiers(group(m, 2)) {
			if s.local == s.exported {
				binds = append(binds, s.local)
			} else {
				binds = append(binds, s.local+": "+s.exported)
			}
		}
		stmt := fmt.Sprintf("const {%s} = require(%s);", strings.Join(binds, ", "), group(m, 3))
		if def := group(m, 1); def != "" {
			stmt = fmt.Sprintf("const %s = require(%s).default; %s", def, group(m, 3), stmt)
		}
		return stmt
	})
	src = replaceAll(reImportDefault, src, func(m regexp2.Match) string {
		return fmt.Sprintf("const %s = require(%s).default;", group(m, 1), group(m, 2))
	})
	src = replaceAll(reImportBare, src, func(m regexp2.Match) string {
		return fmt.Sprintf("require(%s);", group(m, 1))
	})
	src = replaceAll(reExportDefault, src, func(m regexp2.Match) string {
		return group(m, 1) + "exports.default = "
	})
	src = replaceAll(reExportDecl, src, func(m regexp2.Match) string {
		name := group(m, 3)
		tail = append(tail, fmt.Sprintf("exports.%s = %s;", name, name))
		return group(m, 1) + group(m, 2) + " " + name
	})
	src = replaceAll(reExportList, src, func(m regexp2.Match) string {
		var stmts []string
		from := group(m, 2)
		for _, s := range parseSpecifiers(group(m, 1)) {
			if from != "" {
				stmts = append(stmts, fmt.Sprintf("exports.%s = require(%s).%s;", s.exported, from, s.local))
				continue
			}
			tail = append(tail, fmt.Sprintf("exports.%s = %s;", s.exported, s.local))
		}
		return strings.Join(stmts, " ")
	})
	if len(tail) == 0 {
		return src
	}
	return src + "\n" + strings.Join(tail, "\n")
}
