/*
Package quickjs implements the QuickJS value and object model in Go: tagged values with manual
reference counting, an arena-backed object heap with a cycle collector, a native class registry
with call, GC-mark and finalizer hooks, the seven-trap exotic object protocol and the bridge that
carries exceptions between JavaScript and the host.

Parsing and interpretation of JavaScript source are delegated to an Evaluator. The default
evaluator runs scripts on github.com/dop251/goja and exposes heap objects to scripts through
their exotic traps.
*/
package quickjs
