package service

import (
	"sort"

	"github.com/noah-isme/gema-inbox/internal/models"
)

// BuildCommentTree turns a flat comment list into display roots, each carrying every descendant
// flattened into Replies. A non-zero filterChapterID keeps only roots of that chapter; replies are
// never excluded by their own chapter.
//
// Replies whose parent is missing from the input are dropped. When ids repeat, the last entry wins.
// The input slice is not modified.
func BuildCommentTree(comments []models.Comment, filterChapterID models.ID) []models.Comment {
	byID := make(map[models.ID]models.Comment, len(comments))
	order := make([]models.ID, 0, len(comments))
	for _, comment := range comments {
		id := comment.CommentID
		if id.IsZero() {
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		comment.Replies = nil
		byID[id] = comment
	}

	children := make(map[models.ID][]models.ID)
	for _, id := range order {
		comment := byID[id]
		if comment.IsRoot() || comment.ParentID == id {
			continue
		}
		children[comment.ParentID] = append(children[comment.ParentID], id)
	}

	roots := make([]models.Comment, 0)
	for _, id := range order {
		root := byID[id]
		if !root.IsRoot() {
			continue
		}
		if !filterChapterID.IsZero() && root.ChapterID != filterChapterID {
			continue
		}
		root.Replies = flattenReplies(root, byID, children)
		roots = append(roots, root)
	}

	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].CreateTime.After(roots[j].CreateTime.Time)
	})
	return roots
}

// flattenReplies walks the thread breadth first. The visited set stops cycles.
func flattenReplies(root models.Comment, byID map[models.ID]models.Comment, children map[models.ID][]models.ID) []models.Comment {
	visited := map[models.ID]struct{}{root.CommentID: {}}
	queue := []models.ID{root.CommentID}
	replies := make([]models.Comment, 0)

	for len(queue) > 0 {
		parent := byID[queue[0]]
		queue = queue[1:]

		for _, childID := range children[parent.CommentID] {
			if _, seen := visited[childID]; seen {
				continue
			}
			visited[childID] = struct{}{}

			child := byID[childID]
			if child.TargetUserName == "" {
				child.TargetUserName = parent.UserName
			}
			if child.TargetUserID.IsZero() {
				child.TargetUserID = parent.UserID
			}
			if child.ChapterID.IsZero() {
				child.ChapterID = root.ChapterID
			}
			replies = append(replies, child)
			queue = append(queue, childID)
		}
	}

	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].CreateTime.Before(replies[j].CreateTime.Time)
	})
	return replies
}
