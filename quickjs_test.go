package quickjs_test

import (
	"fmt"

	"github.com/btx638/quickjs-go"
)

func Example() {

	// Create a new runtime
	rt := quickjs.NewRuntime(
		quickjs.WithExecuteTimeout(30),
		quickjs.WithMemoryLimit(1024*1024),
		quickjs.WithGCThreshold(256*1024),
		quickjs.WithMaxStackSize(65534),
		quickjs.WithStripInfo(quickjs.StripSource),
	)
	defer rt.Close()

	// Create a new context
	ctx := rt.NewContext()
	defer ctx.Close()

	// Create a new object
	test := ctx.Object()
	// bind properties to the object
	test.Set("A", test.Context().String("String A"))
	test.Set("B", ctx.Int32(0))
	test.Set("C", ctx.Bool(false))
	// bind go function to js object
	test.Set("hello", ctx.Function(func(ctx *quickjs.Context, this quickjs.Value, args []quickjs.Value) quickjs.Value {
		return ctx.String("Hello " + args[0].String())
	}))

	// bind "test" object to global object; Set takes ownership of the value
	ctx.Globals().Set("test", test)

	// call js function by js
	jsRet, _ := ctx.Eval(`test.hello("Javascript!")`)
	defer jsRet.Free()
	fmt.Println(jsRet.String())

	// call js function by go
	obj := ctx.Globals().Get("test")
	defer obj.Free()
	goRet := obj.Call("hello", ctx.String("Golang!"))
	defer goRet.Free()
	fmt.Println(goRet.String())

	// bind go function to Javascript async function
	ctx.Globals().Set("testAsync", ctx.AsyncFunction(func(ctx *quickjs.Context, this quickjs.Value, promise quickjs.Value, args []quickjs.Value) quickjs.Value {
		return promise.Call("resolve", ctx.String("Hello Async Function!"))
	}))

	ret, _ := ctx.Eval(`
			var ret;
			testAsync().then(v => ret = v)
		`)
	defer ret.Free()

	// wait for promise resolve
	ctx.Loop()

	asyncRet, _ := ctx.Eval("ret")
	defer asyncRet.Free()

	fmt.Println(asyncRet.String())

	// Output:
	// Hello Javascript!
	// Hello Golang!
	// Hello Async Function!

}

func ExampleContext_WriteObject() {
	rt := quickjs.NewRuntime()
	defer rt.Close()
	ctx := rt.NewContext()
	defer ctx.Close()

	config, _ := ctx.Eval(`({ name: "service", ports: [80, 443], limits: { rps: 100n } })`)
	defer config.Free()

	buf, err := ctx.WriteObject(config, 0)
	if err != nil {
		fmt.Println(err)
		return
	}

	copied, _ := ctx.ReadObject(buf, 0)
	defer copied.Free()
	ports := copied.Get("ports")
	defer ports.Free()
	limits := copied.Get("limits")
	defer limits.Free()
	rps := limits.Get("rps")
	defer rps.Free()

	fmt.Println(ports.String(), rps.String())

	// Output:
	// 80,443 100
}
