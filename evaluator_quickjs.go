package quickjs

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"sync/atomic"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	qjs "modernc.org/quickjs"
)

func init() {
	RegisterEvaluator(EvaluatorQuickJS, newQuickJSEvaluator)
}

// The quickjs evaluator exchanges values with the engine as tagged JSON. Host objects cross as
// proxies identified by a handle id, script functions and promises as handles on the engine
// side; everything else is copied.
//
//	{"$u":1}            undefined
//	{"$n":"NaN"}        non finite numbers and negative zero
//	{"$b":"123"}        BigInt
//	{"$f":1}            script function
//	{"$p":1}            script promise
//	{"$e":{...}}        error
//	{"$h":1,"p":[...]}  host object with its enumerable properties
//	{"$r":1}            reference back to a host object
//	{"$o":[[k,v],...]}  plain script object
const quickjsPrelude = `(function (g, call) {
	"use strict";
	var fns = [], fnIDs = new Map(), stubs = new Map(), promises = [], hostKey = Symbol("host");
	function enc(v, seen) {
		switch (typeof v) {
		case "undefined":
		case "symbol":
			return {$u: 1};
		case "number":
			return isFinite(v) && !(v === 0 && 1 / v < 0) ? v : {$n: Object.is(v, -0) ? "-0" : String(v)};
		case "bigint":
			return {$b: v.toString()};
		case "string":
		case "boolean":
			return v;
		case "function":
			if (v[hostKey] !== undefined) return {$r: v[hostKey]};
			var id = fnIDs.get(v);
			if (id === undefined) {
				id = fns.length;
				fns.push(v);
				fnIDs.set(v, id);
			}
			return {$f: id, n: String(v.name), l: v.length};
		}
		if (v === null) return null;
		if (v[hostKey] !== undefined) return {$r: v[hostKey]};
		if (seen.indexOf(v) >= 0) return {$u: 1};
		seen.push(v);
		try {
			if (v instanceof Promise) {
				var rec = {s: 0, v: undefined};
				v.then(function (x) { rec.s = 1; rec.v = x; }, function (x) { rec.s = 2; rec.v = x; });
				promises.push(rec);
				return {$p: promises.length - 1};
			}
			if (v instanceof Error) {
				var e = {name: String(v.name), message: String(v.message), stack: String(v.stack || "")};
				if ("cause" in v) e.cause = enc(v.cause, seen);
				return {$e: e};
			}
			if (Array.isArray(v)) return v.map(function (x) { return enc(x, seen); });
			return {$o: Object.keys(v).map(function (k) { return [k, enc(v[k], seen)]; })};
		} finally {
			seen.pop();
		}
	}
	function dec(v) {
		if (v === null || typeof v !== "object") return v;
		if (Array.isArray(v)) return v.map(dec);
		if ("$u" in v) return undefined;
		if ("$n" in v) return Number(v.$n);
		if ("$b" in v) return BigInt(v.$b);
		if ("$f" in v) return fns[v.$f];
		if ("$p" in v) return undefined;
		if ("$e" in v) {
			var C = g[v.$e.name];
			if (typeof C !== "function") C = Error;
			var err = new C(v.$e.message);
			if (err.name !== v.$e.name) err.name = v.$e.name;
			if (v.$e.stack) err.stack = v.$e.stack;
			if ("cause" in v.$e) err.cause = dec(v.$e.cause);
			return err;
		}
		if ("$h" in v) return host(v);
		if ("$o" in v) {
			var o = {};
			v.$o.forEach(function (p) { o[p[0]] = dec(p[1]); });
			return o;
		}
		return undefined;
	}
	function host(v) {
		var id = v.$h, o = stubs.get(id);
		if (o === undefined) {
			if (v.f) {
				o = function () { return invoke(id, new.target, this, arguments); };
				Object.defineProperty(o, "name", {value: v.n, configurable: true});
				Object.defineProperty(o, "length", {value: v.l, configurable: true});
			} else {
				o = {};
			}
			Object.defineProperty(o, hostKey, {value: id});
			stubs.set(id, o);
		}
		(v.p || []).forEach(function (p) {
			try { o[p[0]] = dec(p[1]); } catch (e) {}
		});
		return o;
	}
	function result(r) {
		r = JSON.parse(r);
		if ("t" in r) throw dec(r.t);
		return dec(r.r);
	}
	function invoke(id, nt, self, args) {
		var a = [];
		for (var i = 0; i < args.length; i++) a.push(enc(args[i], []));
		return result(call(JSON.stringify({f: id, n: nt !== undefined, t: enc(nt !== undefined ? nt : self, []), a: a})));
	}
	function settle(fn) {
		try {
			return JSON.stringify({r: enc(fn(), [])});
		} catch (e) {
			return JSON.stringify({t: enc(e, [])});
		}
	}
	Object.defineProperty(g, "__qjsgo", {value: {
		run: function (src) { return settle(function () { return (0, eval)(src); }); },
		call: function (id, req) {
			req = JSON.parse(req);
			return settle(function () {
				var fn = fns[id], args = req.a.map(dec);
				if (req.n) return Reflect.construct(fn, args, dec(req.t) || fn);
				return fn.apply(dec(req.t), args);
			});
		},
		compile: function (src) { return settle(function () { new Function(src); }); },
		global: function (name) {
			return settle(function () { return name in g ? [enc(g[name], [])] : []; });
		},
		globals: function () {
			return JSON.stringify(Object.keys(g).map(function (k) { return [k, JSON.stringify(enc(g[k], []))]; }));
		},
		define: function (req) {
			JSON.parse(req).forEach(function (p) {
				if (p.length > 1) g[p[0]] = dec(p[1]);
				else delete g[p[0]];
			});
		},
		promise: function (id) {
			var rec = promises[id];
			return JSON.stringify(rec.s === 0 ? {s: 0} : {s: rec.s, v: enc(rec.v, [])});
		},
		release: function (ids) {
			JSON.parse(ids).forEach(function (id) {
				fnIDs.delete(fns[id]);
				fns[id] = undefined;
			});
		}
	}});
})(globalThis, globalThis.__qjsgo_call)`

// quickjsEvaluator runs scripts on modernc.org/quickjs.
type quickjsEvaluator struct {
	ctx *Context
	vm  *qjs.VM

	handles    map[int]JSValue // host objects exported to scripts, owned
	handleIDs  map[JSValue]int
	nextHandle int
	scripts    map[scriptRef]JSValue // script functions and promises mirrored on the host
	released   []int

	synced map[string]string // last JSON seen per script global

	depth     int
	reason    atomic.Pointer[error]
	abort     *uncatchableThrow
	stopWatch func()
	closed    bool
}

type scriptRef struct {
	promise bool
	id      int
}

// quickjsResult is the envelope returned by the prelude: r holds a result, t a thrown value.
type quickjsResult struct {
	R json.RawMessage `json:"r"`
	T json.RawMessage `json:"t"`
}

type quickjsCall struct {
	F    int               `json:"f"`
	New  bool              `json:"n"`
	This json.RawMessage   `json:"t"`
	Args []json.RawMessage `json:"a"`
}

func newQuickJSEvaluator(ctx *Context) (Evaluator, error) {
	vm, err := qjs.NewVM()
	if err != nil {
		return nil, errors.Wrap(err, "quickjs: create vm")
	}
	ev := &quickjsEvaluator{
		ctx:       ctx,
		vm:        vm,
		handles:   make(map[int]JSValue),
		handleIDs: make(map[JSValue]int),
		scripts:   make(map[scriptRef]JSValue),
		synced:    make(map[string]string),
	}
	if limit := ctx.rt.malloc.MallocLimit; limit > 0 {
		vm.SetMemoryLimit(uintptr(limit))
	}
	if err := vm.RegisterFunc("__qjsgo_call", ev.dispatch, false); err != nil {
		vm.Close()
		return nil, errors.Wrap(err, "quickjs: register dispatcher")
	}
	if _, err := vm.Eval(quickjsPrelude, qjs.EvalGlobal); err != nil {
		vm.Close()
		return nil, errors.Wrap(err, "quickjs: prelude")
	}
	if _, err := vm.Eval("delete globalThis.__qjsgo_call", qjs.EvalGlobal); err != nil {
		vm.Close()
		return nil, errors.Wrap(err, "quickjs: prelude")
	}
	return ev, nil
}

// =============================================================================
// EVALUATOR INTERFACE
// =============================================================================

type quickjsProgram struct {
	code   string
	strict bool
}

func (ev *quickjsEvaluator) Eval(code string, opts *EvalOptions) Value {
	program, err := ev.Compile(code, opts)
	if err != nil {
		return ev.ctx.wrap(ev.ctx.throwCompileError(err))
	}
	return ev.Run(program, opts)
}

func (ev *quickjsEvaluator) Compile(code string, opts *EvalOptions) (any, error) {
	if opts.Strict {
		code = "\"use strict\";\n" + code
	}
	if ev.closed {
		return nil, ErrRuntimeClosed
	}
	out, err := ev.exec("__qjsgo.compile(" + quoteJS(code) + ")")
	if err != nil {
		return nil, err
	}
	var res quickjsResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return nil, errors.Wrap(err, "quickjs: compile result")
	}
	if res.T != nil {
		var thrown struct {
			E struct {
				Name    string `json:"name"`
				Message string `json:"message"`
			} `json:"$e"`
		}
		if err := json.Unmarshal(res.T, &thrown); err != nil || thrown.E.Name == "" {
			return nil, &Error{Name: SyntaxError.String(), Message: string(res.T)}
		}
		return nil, &Error{Name: thrown.E.Name, Message: thrown.E.Message}
	}
	return &quickjsProgram{code: code, strict: opts.Strict}, nil
}

func (ev *quickjsEvaluator) Run(program any, _ *EvalOptions) Value {
	ctx := ev.ctx
	p, ok := program.(*quickjsProgram)
	if !ok {
		return ctx.wrap(ctx.throwError(TypeError, "program was compiled by another evaluator"))
	}
	return ctx.wrap(ev.settle("__qjsgo.run(" + quoteJS(p.code) + ")"))
}

func (ev *quickjsEvaluator) Global(name string) (Value, bool) {
	if ev.closed || ev.depth > 0 {
		return Value{}, false
	}
	out, err := ev.exec("__qjsgo.global(" + quoteJS(name) + ")")
	if err != nil {
		return Value{}, false
	}
	var res quickjsResult
	var found []json.RawMessage
	if json.Unmarshal([]byte(out), &res) != nil || res.R == nil || json.Unmarshal(res.R, &found) != nil || len(found) == 0 {
		return Value{}, false
	}
	v := ev.decode(found[0])
	if v.IsException() {
		ev.ctx.rt.free(ev.ctx.takeException())
		return Value{}, false
	}
	return ev.ctx.wrap(v), true
}

// Backtrace is empty: the engine stack is not observable from host callbacks.
func (ev *quickjsEvaluator) Backtrace() string {
	return ""
}

func (ev *quickjsEvaluator) Interrupt(reason error) {
	ev.reason.Store(&reason)
	ev.vm.Interrupt()
}

func (ev *quickjsEvaluator) Close() {
	if ev.closed {
		return
	}
	ev.closed = true
	r := ev.ctx.rt
	for id, v := range ev.handles {
		r.free(v)
		delete(ev.handles, id)
	}
	ev.handleIDs = nil
	if ev.abort != nil {
		r.free(ev.abort.value)
		ev.abort = nil
	}
	ev.vm.Close()
}

// =============================================================================
// RUNNING CODE
// =============================================================================

// exec evaluates a prelude call and returns its string result.
func (ev *quickjsEvaluator) exec(src string) (string, error) {
	res, err := ev.vm.Eval(src, qjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if s, ok := res.(string); ok {
		return s, nil
	}
	return fmt.Sprint(res), nil
}

// settle runs a prelude call returning a result envelope, with the globals synchronized and
// the watchdog armed, and converts the envelope into an owned value.
func (ev *quickjsEvaluator) settle(src string) JSValue {
	ctx := ev.ctx
	if ev.closed {
		return ctx.throwHostError(ErrRuntimeClosed)
	}
	ev.release()
	ev.syncIn()
	if ev.depth == 0 {
		ev.reason.Store(nil)
		ev.stopWatch = ctx.rt.startWatchdog(ev)
	}
	ev.depth++
	out, err := ev.exec(src)
	ev.depth--
	var reason error
	if ev.depth == 0 {
		ev.stopWatch()
		ev.stopWatch = nil
		if p := ev.reason.Swap(nil); p != nil {
			reason = *p
		}
	}
	if a := ev.abort; a != nil && ev.depth == 0 {
		ev.abort = nil
		ctx.throw(a.value)
		ctx.uncatchable, ctx.hostErr = true, a.host
		return Exception
	}
	if err != nil {
		return ev.throwEngineError(err, reason)
	}
	ev.syncOut()

	var res quickjsResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		return ctx.throwError(InternalError, "quickjs: malformed result: %v", err)
	}
	if res.T != nil {
		v := ev.decode(res.T)
		if v.IsException() {
			return v
		}
		return ctx.throw(v)
	}
	return ev.decode(res.R)
}

// throwEngineError converts an error of the engine itself, such as an interruption.
func (ev *quickjsEvaluator) throwEngineError(err error, reason error) JSValue {
	ctx := ev.ctx
	msg := err.Error()
	switch {
	case reason != nil && errors.Is(reason, ErrOutOfMemory), strings.Contains(msg, "out of memory"):
		ctx.throwOutOfMemory()
		ctx.hostErr = ErrOutOfMemory
		return Exception
	case reason != nil, strings.Contains(msg, "interrupted"):
		if reason == nil {
			reason = ErrInterrupted
		}
		ctx.throwUncatchable(ErrInterrupted.Error())
		ctx.hostErr = reason
		return Exception
	}
	name, rest := trimErrorPrefix(msg)
	kind := InternalError
	if name != "" {
		kind = ErrorKindOf(name)
	}
	return ctx.throwError(kind, "%s", rest)
}

// dispatch is called by the engine when a script calls a host function.
func (ev *quickjsEvaluator) dispatch(payload string) (out string) {
	ctx, r := ev.ctx, ev.ctx.rt
	defer func() {
		if p := recover(); p != nil {
			ctx.throwHostError(panicError(p))
			out = ev.thrown()
		}
	}()
	var req quickjsCall
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		ctx.throwError(InternalError, "quickjs: malformed call: %v", err)
		return ev.thrown()
	}
	fn, ok := ev.handles[req.F]
	if !ok || ev.closed {
		ctx.throwError(TypeError, "not a function")
		return ev.thrown()
	}
	raw := make([]JSValue, 0, len(req.Args)+1)
	defer func() {
		for _, v := range raw {
			r.free(v)
		}
	}()
	for _, msg := range append([]json.RawMessage{req.This}, req.Args...) {
		v := ev.decode(msg)
		if v.IsException() {
			return ev.thrown()
		}
		raw = append(raw, v)
	}
	var flags CallFlags
	if req.New {
		flags = CallFlagConstructor
	}
	res := ctx.callInternal(fn, raw[0], raw[1:], flags)
	if res.IsException() {
		return ev.thrown()
	}
	defer r.free(res)
	return ev.envelope("r", ev.encode(res, nil))
}

// thrown hands the pending exception to the script. Uncatchable exceptions interrupt the
// engine instead and are rethrown when the outermost evaluation returns.
func (ev *quickjsEvaluator) thrown() string {
	ctx := ev.ctx
	host, uncatchable := ctx.hostErr, ctx.uncatchable
	ctx.hostErr, ctx.uncatchable = nil, false
	v := ctx.takeException()
	if uncatchable {
		if ev.abort != nil {
			ctx.rt.free(ev.abort.value)
		}
		ev.abort = &uncatchableThrow{value: v, host: host}
		ev.vm.Interrupt()
		return ev.envelope("r", map[string]int{"$u": 1})
	}
	defer ctx.rt.free(v)
	return ev.envelope("t", ev.encode(v, nil))
}

func (ev *quickjsEvaluator) envelope(key string, v any) string {
	b, err := json.Marshal(map[string]any{key: v})
	if err != nil {
		b, _ = json.Marshal(map[string]any{"t": map[string]any{"$e": map[string]string{"name": "InternalError", "message": err.Error()}}})
	}
	return string(b)
}

func (ev *quickjsEvaluator) release() {
	if len(ev.released) == 0 {
		return
	}
	ids, _ := json.Marshal(ev.released)
	ev.released = ev.released[:0]
	if _, err := ev.exec("__qjsgo.release(" + quoteJS(string(ids)) + ")"); err != nil {
		ev.ctx.rt.logger.Debug("quickjs release", zap.Error(err))
	}
}

// =============================================================================
// GLOBALS
// =============================================================================

func (ev *quickjsEvaluator) syncIn() {
	ctx, r := ev.ctx, ev.ctx.rt
	saved := ctx.suspendException()
	defer func() {
		r.free(ctx.takeException())
		ctx.hostErr, ctx.uncatchable = nil, false
		ctx.resumeException(saved)
	}()
	tab, code := ctx.getOwnPropertyNamesInternal(ctx.globals, GPNStringMask)
	if code < 0 {
		r.free(ctx.takeException())
		return
	}
	defer ctx.freePropertyEnum(tab)
	var defs [][]any
	present := make(map[string]bool, len(tab))
	for _, e := range tab {
		name := ctx.atomName(e.atom)
		present[name] = true
		v := ctx.getProperty(ctx.globals, e.atom, ctx.globals)
		if v.IsException() {
			r.free(ctx.takeException())
			continue
		}
		enc := ev.encode(v, nil)
		r.free(v)
		b, err := json.Marshal(enc)
		if err != nil || ev.synced[name] == string(b) {
			continue
		}
		if ref, ok := enc.(map[string]any); ok && ref["$h"] != nil {
			if b, err = json.Marshal(map[string]any{"$r": ref["$h"]}); err != nil {
				continue
			}
		}
		defs = append(defs, []any{name, enc})
		ev.synced[name] = string(b)
	}
	for name := range ev.synced {
		if !present[name] {
			defs = append(defs, []any{name})
			delete(ev.synced, name)
		}
	}
	if len(defs) == 0 {
		return
	}
	b, err := json.Marshal(defs)
	if err != nil {
		return
	}
	if _, err := ev.exec("__qjsgo.define(" + quoteJS(string(b)) + ")"); err != nil {
		r.logger.Debug("quickjs globals not synchronized", zap.Error(err))
	}
}

func (ev *quickjsEvaluator) syncOut() {
	ctx, r := ev.ctx, ev.ctx.rt
	out, err := ev.exec("__qjsgo.globals()")
	if err != nil {
		return
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(out), &pairs); err != nil {
		return
	}
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		name, enc := p[0], p[1]
		seen[name] = true
		if ev.synced[name] == enc {
			continue
		}
		ev.synced[name] = enc
		v := ev.decode(json.RawMessage(enc))
		if v.IsException() {
			r.free(ctx.takeException())
			continue
		}
		if ctx.setPropertyStr(ctx.globals, name, v, 0) < 0 {
			r.free(ctx.takeException())
		}
	}
	for name := range ev.synced {
		if seen[name] {
			continue
		}
		delete(ev.synced, name)
		prop := r.atoms.newAtom(name)
		if ctx.deleteProperty(ctx.globals, prop, 0) < 0 {
			r.free(ctx.takeException())
		}
		r.atoms.free(prop)
	}
}

// =============================================================================
// VALUE CONVERSION
// =============================================================================

// encode converts a context value into its tagged JSON form. v is borrowed.
func (ev *quickjsEvaluator) encode(v JSValue, seen map[JSValue]bool) any {
	ctx, r := ev.ctx, ev.ctx.rt
	switch v.tag {
	case TagNull:
		return nil
	case TagBool:
		return v.u != 0
	case TagInt:
		return v.int32()
	case TagFloat64:
		return encodeNumber(v.float64())
	case TagString:
		return r.stringOf(v)
	case TagBigInt:
		return map[string]string{"$b": r.cellOf(v).bigInt.String()}
	case TagBigFloat:
		f, _ := r.cellOf(v).bigFloat.Float64()
		return encodeNumber(f)
	case TagBigDecimal:
		f, err := r.cellOf(v).bigDec.Float64()
		if err != nil {
			f = math.NaN()
		}
		return encodeNumber(f)
	case TagObject:
	default:
		return map[string]int{"$u": 1}
	}

	obj := r.objectOf(v)
	if h, ok := obj.internal.(*quickjsHandle); ok && h.ev == ev {
		if h.ref.promise {
			return map[string]int{"$u": 1}
		}
		return map[string]int{"$f": h.ref.id}
	}
	switch obj.classID {
	case ClassError:
		e := map[string]string{}
		for _, key := range []string{"name", "message", "stack"} {
			pv := ctx.getPropertyStr(v, key)
			if pv.IsException() {
				r.free(ctx.takeException())
				continue
			}
			e[key], _ = ctx.toGoString(pv)
			r.free(pv)
		}
		return map[string]any{"$e": e}
	case ClassNumber, ClassString, ClassBoolean:
		return ev.encode(obj.primitive, seen)
	}
	if seen == nil {
		seen = make(map[JSValue]bool)
	}
	if seen[v] {
		return map[string]int{"$u": 1}
	}
	seen[v] = true
	defer delete(seen, v)

	if obj.classID == ClassArray {
		n := 0.0
		if lv := ctx.getProperty(v, atomLength, v); !lv.IsException() {
			n, _ = ctx.toNumber(lv)
		} else {
			r.free(ctx.takeException())
		}
		items := make([]any, 0, int(n))
		for i := uint32(0); i < uint32(n); i++ {
			items = append(items, ev.property(v, atomFromUint32(i), seen))
		}
		return items
	}

	id, ok := ev.handleIDs[v]
	if !ok {
		ev.nextHandle++
		id = ev.nextHandle
		ev.handles[id] = r.dup(v)
		ev.handleIDs[v] = id
	}
	out := map[string]any{"$h": id}
	if r.isCallable(v) {
		out["f"] = true
		out["n"], out["l"] = ev.functionInfo(v)
	}
	tab, code := ctx.getOwnPropertyNamesInternal(v, GPNStringMask|GPNEnumOnly)
	if code < 0 {
		r.free(ctx.takeException())
		return out
	}
	defer ctx.freePropertyEnum(tab)
	props := make([][2]any, 0, len(tab))
	for _, e := range tab {
		props = append(props, [2]any{ctx.atomName(e.atom), ev.property(v, e.atom, seen)})
	}
	out["p"] = props
	return out
}

func (ev *quickjsEvaluator) property(v JSValue, prop JSAtom, seen map[JSValue]bool) any {
	ctx := ev.ctx
	pv := ctx.getProperty(v, prop, v)
	if pv.IsException() {
		ctx.rt.free(ctx.takeException())
		return map[string]int{"$u": 1}
	}
	defer ctx.rt.free(pv)
	return ev.encode(pv, seen)
}

func (ev *quickjsEvaluator) functionInfo(v JSValue) (string, int) {
	ctx, r := ev.ctx, ev.ctx.rt
	name, length := "", 0.0
	if nv := ctx.getProperty(v, atomName, v); !nv.IsException() {
		name, _ = ctx.toGoString(nv)
		r.free(nv)
	} else {
		r.free(ctx.takeException())
	}
	if lv := ctx.getProperty(v, atomLength, v); !lv.IsException() {
		length, _ = ctx.toNumber(lv)
		r.free(lv)
	} else {
		r.free(ctx.takeException())
	}
	return name, int(length)
}

func encodeNumber(f float64) any {
	switch {
	case math.IsNaN(f), math.IsInf(f, 0):
		return map[string]string{"$n": formatNumber(f)}
	case f == 0 && math.Signbit(f):
		return map[string]string{"$n": "-0"}
	}
	return f
}

// decode converts tagged JSON into an owned context value.
func (ev *quickjsEvaluator) decode(msg json.RawMessage) JSValue {
	if len(msg) == 0 {
		return Undefined
	}
	var x any
	dec := json.NewDecoder(strings.NewReader(string(msg)))
	dec.UseNumber()
	if err := dec.Decode(&x); err != nil {
		return ev.ctx.throwError(InternalError, "quickjs: malformed value: %v", err)
	}
	return ev.decodeAny(x)
}

func (ev *quickjsEvaluator) decodeAny(x any) JSValue {
	ctx, r := ev.ctx, ev.ctx.rt
	switch x := x.(type) {
	case nil:
		return Null
	case bool:
		return MakeBool(x)
	case json.Number:
		f, _ := strconv.ParseFloat(string(x), 64)
		return MakeFloat(f)
	case string:
		return ctx.newStringValue(x)
	case []any:
		arr := ctx.newArray()
		if arr.IsException() {
			return arr
		}
		for i, item := range x {
			v := ev.decodeAny(item)
			if v.IsException() || ctx.setProperty(arr, atomFromUint32(uint32(i)), v, arr, PropertyThrow) < 0 {
				r.free(arr)
				return Exception
			}
		}
		return arr
	case map[string]any:
		return ev.decodeTagged(x)
	}
	return Undefined
}

func (ev *quickjsEvaluator) decodeTagged(m map[string]any) JSValue {
	ctx, r := ev.ctx, ev.ctx.rt
	id := func(key string) int {
		return jsonInt(m[key])
	}
	switch {
	case m["$u"] != nil:
		return Undefined
	case m["$n"] != nil:
		s, _ := m["$n"].(string)
		return MakeFloat(stringToNumber(s))
	case m["$b"] != nil:
		s, _ := m["$b"].(string)
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return ctx.throwError(SyntaxError, "invalid BigInt %q", s)
		}
		v, err := r.newBigInt(n)
		if err != nil {
			return ctx.throwOutOfMemory()
		}
		return v
	case m["$r"] != nil:
		if v, ok := ev.handles[id("$r")]; ok {
			return r.dup(v)
		}
		return Undefined
	case m["$f"] != nil:
		return ev.mirror(scriptRef{id: id("$f")}, m)
	case m["$p"] != nil:
		return ev.mirror(scriptRef{promise: true, id: id("$p")}, m)
	case m["$e"] != nil:
		e, _ := m["$e"].(map[string]any)
		str := func(key string) string {
			s, _ := e[key].(string)
			return s
		}
		name := str("name")
		kind := ErrorKindOf(name)
		v := ctx.newErrorObject(kind, str("message"))
		if v.IsException() {
			return v
		}
		flags := PropertyWritable | PropertyConfigurable
		if name != "" && name != kind.String() {
			ctx.defineValue(v, atomName, ctx.newStringValue(name), flags)
		}
		if stack := str("stack"); stack != "" {
			ctx.defineValue(v, atomStack, ctx.newStringValue(stack), flags)
		}
		if cause, ok := e["cause"]; ok {
			ctx.defineValue(v, atomCause, ev.decodeAny(cause), flags)
		}
		return v
	case m["$o"] != nil:
		obj := ctx.newObject()
		if obj.IsException() {
			return obj
		}
		pairs, _ := m["$o"].([]any)
		for _, p := range pairs {
			kv, _ := p.([]any)
			if len(kv) != 2 {
				continue
			}
			key, _ := kv[0].(string)
			v := ev.decodeAny(kv[1])
			if v.IsException() || ctx.defineValueStr(obj, key, v, PropertyDefault) < 0 {
				r.free(obj)
				return Exception
			}
		}
		return obj
	}
	return Undefined
}

// mirror returns the host object standing for a script function or promise.
func (ev *quickjsEvaluator) mirror(ref scriptRef, m map[string]any) JSValue {
	ctx := ev.ctx
	if v, ok := ev.scripts[ref]; ok {
		return ctx.rt.dup(v)
	}
	v := ctx.newScriptObject(&quickjsHandle{ev: ev, ref: ref}, !ref.promise, !ref.promise)
	if v.IsException() {
		return v
	}
	if !ref.promise {
		name, _ := m["n"].(string)
		ctx.defineValue(v, atomName, ctx.newStringValue(name), PropertyConfigurable)
		ctx.defineValue(v, atomLength, MakeInt(int32(jsonInt(m["l"]))), PropertyConfigurable)
	}
	ev.scripts[ref] = v
	return v
}

func jsonInt(x any) int {
	n, ok := x.(json.Number)
	if !ok {
		return 0
	}
	i, _ := n.Int64()
	return int(i)
}

func quoteJS(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// =============================================================================
// SCRIPT OBJECTS
// =============================================================================

// quickjsHandle is the internal data of host objects that stand for a script function or
// promise. Properties live on the host object itself.
type quickjsHandle struct {
	UnimplementedExoticMethods
	ev  *quickjsEvaluator
	ref scriptRef
}

func (h *quickjsHandle) call(ctx *Context, this JSValue, args []JSValue, flags CallFlags) JSValue {
	ev := h.ev
	if ev.closed {
		return ctx.throwHostError(ErrRuntimeClosed)
	}
	req := map[string]any{"n": flags&CallFlagConstructor != 0, "t": ev.encode(this, nil)}
	encoded := make([]any, len(args))
	for i, a := range args {
		encoded[i] = ev.encode(a, nil)
	}
	req["a"] = encoded
	b, err := json.Marshal(req)
	if err != nil {
		return ctx.throwHostError(err)
	}
	return ev.settle(fmt.Sprintf("__qjsgo.call(%d, %s)", h.ref.id, quoteJS(string(b))))
}

func (h *quickjsHandle) className() string {
	if h.ref.promise {
		return "Promise"
	}
	return "Function"
}

func (h *quickjsHandle) owner() Evaluator {
	return h.ev
}

func (h *quickjsHandle) instanceOf(*Context, JSValue) (bool, error) {
	return false, nil
}

func (h *quickjsHandle) promiseState(ctx *Context) (PromiseState, JSValue, bool) {
	ev := h.ev
	if !h.ref.promise || ev.closed {
		return PromisePending, Undefined, false
	}
	out, err := ev.exec(fmt.Sprintf("__qjsgo.promise(%d)", h.ref.id))
	if err != nil {
		return PromisePending, Undefined, true
	}
	var rec struct {
		S int             `json:"s"`
		V json.RawMessage `json:"v"`
	}
	if json.Unmarshal([]byte(out), &rec) != nil || rec.S == 0 {
		return PromisePending, Undefined, true
	}
	v := ev.decode(rec.V)
	if v.IsException() {
		v = ctx.takeException()
	}
	if rec.S == 1 {
		return PromiseFulfilled, v, true
	}
	return PromiseRejected, v, true
}

func (h *quickjsHandle) release(*Runtime) {
	ev := h.ev
	if ev.closed {
		return
	}
	delete(ev.scripts, h.ref)
	if !h.ref.promise {
		ev.released = append(ev.released, h.ref.id)
	}
}
