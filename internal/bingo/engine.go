// Package bingo implements line-completion detection over a player's
// board snapshot. Detection is a pure function of the position→marked
// mapping so it can be recomputed on every mutation without caching.
package bingo

import "github.com/volchan/vol-bingo-sub000/internal/models"

// Result describes the completed lines on a single board.
type Result struct {
	HasBingo    bool `json:"hasBingo"`
	BingoCount  int  `json:"bingoCount"`
	IsMegaBingo bool `json:"isMegaBingo"`
}

// PlayerResult is a Result attributed to one player board.
type PlayerResult struct {
	PlayerID    string `json:"playerId"`
	BoardID     string `json:"playerBoardId"`
	PlayerName  string `json:"playerName"`
	BingoCount  int    `json:"bingoCount"`
	IsMegaBingo bool   `json:"isMegaBingo"`
}

// Detect lays cells into a size×size grid (row = position / size,
// col = position % size) and counts every fully marked row, column and
// the two diagonals independently. A position absent from cells is
// unmarked. A single cell may contribute to several lines at once.
func Detect(cells []models.BoardCell, size int) Result {
	if size <= 0 {
		return Result{}
	}

	marked := make([]bool, size*size)
	for _, c := range cells {
		if c.Position >= 0 && c.Position < size*size && c.Marked {
			marked[c.Position] = true
		}
	}

	count := 0
	for row := 0; row < size; row++ {
		full := true
		for col := 0; col < size; col++ {
			if !marked[row*size+col] {
				full = false
				break
			}
		}
		if full {
			count++
		}
	}
	for col := 0; col < size; col++ {
		full := true
		for row := 0; row < size; row++ {
			if !marked[row*size+col] {
				full = false
				break
			}
		}
		if full {
			count++
		}
	}

	mainDiag, antiDiag := true, true
	for i := 0; i < size; i++ {
		if !marked[i*size+i] {
			mainDiag = false
		}
		if !marked[i*size+(size-1-i)] {
			antiDiag = false
		}
	}
	if mainDiag {
		count++
	}
	if antiDiag {
		count++
	}

	mega := true
	for _, m := range marked {
		if !m {
			mega = false
			break
		}
	}

	return Result{
		HasBingo:    count > 0,
		BingoCount:  count,
		IsMegaBingo: mega,
	}
}

// NewlyAchieved returns the players in current whose result improved on
// previous: a player absent from previous, a higher BingoCount, or a
// mega bingo that was not mega before. This delta gates the celebratory
// broadcast so clients are not renotified for bingos they already know.
func NewlyAchieved(previous, current []PlayerResult) []PlayerResult {
	prev := make(map[string]PlayerResult, len(previous))
	for _, p := range previous {
		prev[p.PlayerID] = p
	}

	var delta []PlayerResult
	for _, cur := range current {
		old, seen := prev[cur.PlayerID]
		if !seen {
			delta = append(delta, cur)
			continue
		}
		if cur.BingoCount > old.BingoCount || (cur.IsMegaBingo && !old.IsMegaBingo) {
			delta = append(delta, cur)
		}
	}
	return delta
}

// AnyMega reports whether any player in results holds a mega bingo.
func AnyMega(results []PlayerResult) bool {
	for _, r := range results {
		if r.IsMegaBingo {
			return true
		}
	}
	return false
}
