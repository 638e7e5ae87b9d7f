package common

import "sort"

// StringSet is a set of strings
type StringSet map[string]struct{}

func (ss StringSet) Contains(elem string) bool {
	_, ok := ss[elem]
	return ok
}

func (ss StringSet) Add(elem string) {
	ss[elem] = struct{}{}
}

func (ss StringSet) Remove(elem string) {
	delete(ss, elem)
}

// ToList returns the strings in ascending order
func (ss StringSet) ToList() []string {
	list := make([]string, 0, len(ss))
	for s := range ss {
		list = append(list, s)
	}
	sort.Strings(list)
	return list
}
