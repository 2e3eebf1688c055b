package quickjs

import "fmt"

// Array is a typed view of an array value. The mutating methods go through the array's own
// methods, so they also work on arrays owned by a script.
type Array struct {
	arrayValue Value
}

// NewQjsArray wraps value; the Array takes over the reference.
func NewQjsArray(value Value) Array {
	return Array{arrayValue: value}
}

// checkIndex rejects indexes outside [0, Len).
func (a Array) checkIndex(index int64) error {
	if index < 0 {
		return fmt.Errorf("array index %d is negative", index)
	}
	if n := a.arrayValue.Len(); index >= n {
		return fmt.Errorf("array index %d out of range [0, %d)", index, n)
	}
	return nil
}

// invokeLength calls a method that returns the new array length.
func (a Array) invokeLength(method string, elements []Value) int32 {
	ret := a.arrayValue.Call(method, elements...)
	defer ret.Free()
	return ret.Int32()
}

// Push appends elements and returns the new length.
func (a Array) Push(elements ...Value) int32 {
	return a.invokeLength("push", elements)
}

// Unshift inserts elements at the front and returns the new length.
func (a Array) Unshift(elements []Value) int32 {
	return a.invokeLength("unshift", elements)
}

// Pop removes and returns the last element, or undefined for an empty array.
func (a Array) Pop() Value {
	return a.arrayValue.Call("pop")
}

// Shift removes and returns the first element.
func (a Array) Shift() Value {
	return a.arrayValue.Call("shift")
}

// Get returns the element at index.
func (a Array) Get(index int64) (Value, error) {
	if err := a.checkIndex(index); err != nil {
		return Value{}, err
	}
	return a.arrayValue.GetIdx(index), nil
}

// Set replaces an existing element. value is consumed when the index is valid.
func (a Array) Set(index int64, value Value) error {
	if err := a.checkIndex(index); err != nil {
		return err
	}
	a.arrayValue.SetIdx(index, value)
	return nil
}

// SetIdx stores value at any index, growing the array as needed.
func (a Array) SetIdx(index int64, value Value) {
	a.arrayValue.SetIdx(index, value)
}

// Delete leaves a hole at index; the length is unchanged.
func (a Array) Delete(index int64) (bool, error) {
	if err := a.checkIndex(index); err != nil {
		return false, err
	}
	return a.arrayValue.DeleteIdx(uint32(index)), nil
}

// Call invokes an array method such as "join" or "indexOf".
func (a Array) Call(funcName string, values []Value) Value {
	return a.arrayValue.Call(funcName, values...)
}

func (a Array) Len() int64 {
	return a.arrayValue.Len()
}

// HasIdx reports whether index holds an element rather than a hole.
func (a Array) HasIdx(i int64) bool {
	return i >= 0 && a.arrayValue.HasIdx(uint32(i))
}

// ToValue returns the wrapped value without a new reference.
func (a Array) ToValue() Value {
	return a.arrayValue
}

func (a Array) Free() {
	a.arrayValue.Free()
}
