package history

// Construct 可以判断自己是否依赖另一个同类对象
type Construct[T any] interface {
	DependsOn(other T) bool
}

// Scan 对 others 中的每个元素独立计算 c.DependsOn，结果与 others 一一对应
func Scan[T Construct[T]](c T, others []T) []bool {
	out := make([]bool, len(others))
	for i, other := range others {
		out[i] = c.DependsOn(other)
	}
	return out
}
