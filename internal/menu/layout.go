package menu

// Grid geometry of the two menus. A page view reserves its bottom row for
// navigation controls.
const (
	RootTitle = "Server Statistics"
	RootSize  = 27

	PageSize       = 54
	MaxRowsPerPage = 45

	SlotLoading   = 22
	SlotPrevious  = 48
	SlotBack      = 49
	SlotNext      = 50
	SlotIndicator = 53
)

const (
	IconHead    = "PLAYER_HEAD"
	IconLoading = "HOPPER"
	IconArrow   = "ARROW"
	IconBack    = "BARRIER"
	IconPage    = "PAPER"
)

// rootSlots centers n icons in the middle row of the root menu, leaving a gap
// between neighbours while they fit (11, 13, 15 for three).
func rootSlots(n int) []int {
	const rowStart, rowLen, center = 9, 9, 13
	slots := make([]int, n)
	if 2*n-1 <= rowLen {
		first := center - (n - 1)
		for i := range slots {
			slots[i] = first + 2*i
		}
		return slots
	}
	for i := range slots {
		slots[i] = min(rowStart+i, RootSize-1)
	}
	return slots
}

func pageTitle(category string) string {
	return category + " Leaderboard"
}
