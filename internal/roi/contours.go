package roi

import (
	"image"

	"github.com/hyperjump/kotae/internal/imageutil"
)

// externalBoxes returns the bounding rectangles of the outermost foreground
// components of mask. Components are 8-connected; a component counts as
// outermost when it touches the plane border or borders background that is
// reachable from outside. Components nested inside holes are skipped.
func externalBoxes(mask *imageutil.Plane) []image.Rectangle {
	w, h := mask.W, mask.H
	n := w * h
	outside := outerBackground(mask)

	visited := make([]bool, n)
	var boxes []image.Rectangle
	queue := make([]int, 0, 64)

	for start := 0; start < n; start++ {
		if mask.Pix[start] == 0 || visited[start] {
			continue
		}
		visited[start] = true
		queue = append(queue[:0], start)
		x0, y0 := start%w, start/w
		box := image.Rect(x0, y0, x0+1, y0+1)
		external := false

		for len(queue) > 0 {
			i := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			x, y := i%w, i/w
			if x < box.Min.X {
				box.Min.X = x
			}
			if y < box.Min.Y {
				box.Min.Y = y
			}
			if x+1 > box.Max.X {
				box.Max.X = x + 1
			}
			if y+1 > box.Max.Y {
				box.Max.Y = y + 1
			}
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				external = true
			}
			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					j := ny*w + nx
					if mask.Pix[j] == 0 {
						if !external && (dx == 0 || dy == 0) && outside[j] {
							external = true
						}
						continue
					}
					if !visited[j] {
						visited[j] = true
						queue = append(queue, j)
					}
				}
			}
		}
		if external {
			boxes = append(boxes, box)
		}
	}
	return boxes
}

// outerBackground flags background pixels 4-connected to the plane border.
func outerBackground(mask *imageutil.Plane) []bool {
	w, h := mask.W, mask.H
	seen := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		i := y*w + x
		if mask.Pix[i] == 0 && !seen[i] {
			seen[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}
	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return seen
}
