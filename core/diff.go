package core

import "github.com/ethereum/go-ethereum/common"

// diffAddresses 计算 current -> desired 需要的最少改动
// remove 保持链上顺序，add 保持配置顺序，重复地址只算一次
func diffAddresses(current, desired []common.Address) (remove, add []common.Address) {
	want := make(map[common.Address]struct{}, len(desired))
	for _, a := range desired {
		want[a] = struct{}{}
	}
	have := make(map[common.Address]struct{}, len(current))
	for _, a := range current {
		if _, dup := have[a]; dup {
			continue
		}
		have[a] = struct{}{}
		if _, ok := want[a]; !ok {
			remove = append(remove, a)
		}
	}
	for _, a := range desired {
		if _, ok := have[a]; ok {
			continue
		}
		have[a] = struct{}{}
		add = append(add, a)
	}
	return remove, add
}
