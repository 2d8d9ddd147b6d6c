package history

import "fsundo/pkg/object"

var _ Construct[*Command] = (*Command)(nil)

// DependsOn 判断 c 是否依赖更早的命令 earlier
//
// 只有 earlier 早于 c 时才可能成立，满足以下任一条件即为依赖：
//  1. earlier 的源、目标目录或落点，等于 c.Source 或是它的祖先目录
//  2. 两者移除或创建过同一个路径
//  3. c.Source 是 earlier 移除或创建的某个路径的祖先目录
//  4. c 的目标目录位于 earlier 的落点之下 (c 把对象放进了 earlier 带来的目录)
//
// 这是一个保守的近似：宁可多报依赖，也不漏掉真正的依赖。
func (c *Command) DependsOn(earlier *Command) bool {
	if earlier == nil || !earlier.ID.Less(c.ID) {
		return false
	}

	// 1. c 操作的对象位于 earlier 触碰过的路径之下
	for _, p := range []string{earlier.Source, earlier.Destination, earlier.Target()} {
		if covers(p, c.Source) {
			return true
		}
	}

	// 2. 同一个路径
	touched := [2]string{earlier.Source, earlier.Target()}
	mine := [2]string{c.Source, c.Target()}
	for _, a := range touched {
		for _, b := range mine {
			if a != "" && a == b {
				return true
			}
		}
	}

	// 3. c 整体捕获了 earlier 留下的状态
	for _, p := range touched {
		if p != "" && object.IsAncestor(c.Source, p) {
			return true
		}
	}

	// 4. c 的目标目录由 earlier 产生
	return c.Destination != "" && covers(earlier.Target(), c.Destination)
}

// covers: dir 等于 path 或是它的祖先
func covers(dir, path string) bool {
	return dir != "" && (dir == path || object.IsAncestor(dir, path))
}
