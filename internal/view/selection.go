package view

// Selection is the stop selection of a view: either nothing or one index
// into the visible stop sequence. The zero value is unselected.
type Selection struct {
	index    int
	selected bool
}

// Selected returns a selection of stop i.
func Selected(i int) Selection {
	return Selection{index: i, selected: true}
}

// Index returns the selected stop, if any.
func (s Selection) Index() (int, bool) {
	return s.index, s.selected
}

// Is reports whether stop i is the selected one.
func (s Selection) Is(i int) bool {
	return s.selected && s.index == i
}

// Toggle clicks stop i: clicking the selected stop clears the selection,
// any other stop becomes the selection.
func (s Selection) Toggle(i int) Selection {
	if s.Is(i) {
		return Selection{}
	}
	return Selected(i)
}

func (s Selection) ptr() *int {
	if !s.selected {
		return nil
	}
	i := s.index
	return &i
}
