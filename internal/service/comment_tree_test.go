package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-inbox/internal/models"
)

func at(minute int) models.Timestamp {
	return models.NewTimestamp(time.Date(2024, 3, 1, 10, minute, 0, 0, time.UTC))
}

func comment(id, parent, chapter models.ID, minute int) models.Comment {
	return models.Comment{
		CommentID:  id,
		ParentID:   parent,
		ChapterID:  chapter,
		CourseID:   "100",
		UserID:     "u" + id,
		UserName:   "user-" + string(id),
		CreateTime: at(minute),
		Content:    "comment " + string(id),
	}
}

func replyIDs(c models.Comment) []models.ID {
	ids := make([]models.ID, 0, len(c.Replies))
	for _, reply := range c.Replies {
		ids = append(ids, reply.CommentID)
	}
	return ids
}

func TestBuildCommentTreeChapterFilterKeepsCrossChapterReplies(t *testing.T) {
	input := []models.Comment{
		comment("1", "", "5", 0),
		comment("2", "1", "7", 1),
	}

	roots := BuildCommentTree(input, "5")
	require.Len(t, roots, 1)
	require.Equal(t, models.ID("1"), roots[0].CommentID)
	require.Equal(t, []models.ID{"2"}, replyIDs(roots[0]))
}

func TestBuildCommentTreeChapterFilterSelectsExactRoots(t *testing.T) {
	input := []models.Comment{
		comment("1", "", "5", 0),
		comment("2", "", "6", 1),
		comment("3", "2", "5", 2),
		comment("4", "", "5", 3),
	}

	roots := BuildCommentTree(input, "5")
	ids := make([]models.ID, 0, len(roots))
	for _, root := range roots {
		ids = append(ids, root.CommentID)
	}
	require.ElementsMatch(t, []models.ID{"1", "4"}, ids)
}

func TestBuildCommentTreeFlattensDeepThreads(t *testing.T) {
	input := []models.Comment{
		comment("1", "", "5", 0),
		comment("4", "3", "", 9),
		comment("2", "1", "", 5),
		comment("3", "2", "", 7),
	}

	roots := BuildCommentTree(input, "")
	require.Len(t, roots, 1)
	require.Equal(t, []models.ID{"2", "3", "4"}, replyIDs(roots[0]))

	for _, reply := range roots[0].Replies {
		require.Equal(t, models.ID("5"), reply.ChapterID)
	}
}

func TestBuildCommentTreeBackfillsReplyTarget(t *testing.T) {
	nested := comment("3", "2", "", 2)
	explicit := comment("4", "2", "", 3)
	explicit.TargetUserName = "someone"
	explicit.TargetUserID = "u9"

	roots := BuildCommentTree([]models.Comment{comment("1", "", "", 0), comment("2", "1", "", 1), nested, explicit}, "")
	require.Len(t, roots, 1)

	replies := roots[0].Replies
	require.Equal(t, "user-1", replies[0].TargetUserName)
	require.Equal(t, "user-2", replies[1].TargetUserName)
	require.Equal(t, models.ID("u2"), replies[1].TargetUserID)
	require.Equal(t, "someone", replies[2].TargetUserName)
	require.Equal(t, models.ID("u9"), replies[2].TargetUserID)
}

func TestBuildCommentTreeOrdering(t *testing.T) {
	input := []models.Comment{
		comment("1", "", "", 0),
		comment("2", "", "", 10),
		comment("3", "1", "", 30),
		comment("4", "1", "", 20),
	}

	roots := BuildCommentTree(input, "")
	require.Equal(t, models.ID("2"), roots[0].CommentID)
	require.Equal(t, models.ID("1"), roots[1].CommentID)
	require.Equal(t, []models.ID{"4", "3"}, replyIDs(roots[1]))
}

func TestBuildCommentTreeDropsOrphansAndSurvivesCycles(t *testing.T) {
	input := []models.Comment{
		comment("1", "", "", 0),
		comment("2", "99", "", 1),
		comment("3", "4", "", 2),
		comment("4", "3", "", 3),
		comment("5", "5", "", 4),
		comment("6", "chapter-x", "", 5),
	}

	roots := BuildCommentTree(input, "")
	require.Len(t, roots, 1)
	require.Empty(t, roots[0].Replies)
}

func TestBuildCommentTreeDuplicateIDsLastWins(t *testing.T) {
	first := comment("1", "", "", 0)
	second := comment("1", "", "", 0)
	second.Content = "edited"

	roots := BuildCommentTree([]models.Comment{first, comment("2", "1", "", 1), second}, "")
	require.Len(t, roots, 1)
	require.Equal(t, "edited", roots[0].Content)
	require.Len(t, roots[0].Replies, 1)
}

func TestBuildCommentTreeProperties(t *testing.T) {
	input := []models.Comment{
		comment("1", "", "5", 0),
		comment("2", "1", "7", 1),
		comment("3", "2", "", 2),
		comment("4", "", "6", 3),
		comment("5", "4", "", 4),
		comment("6", "77", "", 5),
		comment("7", "", "", 6),
	}
	snapshot := make([]models.Comment, len(input))
	copy(snapshot, input)

	first := BuildCommentTree(input, "")
	second := BuildCommentTree(input, "")
	require.Equal(t, first, second)
	require.Equal(t, snapshot, input)

	parents := make(map[models.ID]models.ID)
	for _, c := range input {
		parents[c.CommentID] = c.ParentID
	}
	isDescendant := func(id, root models.ID) bool {
		seen := map[models.ID]bool{}
		for current := parents[id]; !current.IsZero() && !seen[current]; current = parents[current] {
			if current == root {
				return true
			}
			seen[current] = true
		}
		return false
	}

	seen := make(map[models.ID]bool)
	for _, root := range first {
		require.True(t, root.ParentID.IsZero())
		require.False(t, seen[root.CommentID])
		seen[root.CommentID] = true
		for _, reply := range root.Replies {
			require.True(t, isDescendant(reply.CommentID, root.CommentID))
			require.False(t, seen[reply.CommentID])
			seen[reply.CommentID] = true
		}
	}
	require.False(t, seen["6"])
}

func TestBuildCommentTreeEmptyInput(t *testing.T) {
	require.Empty(t, BuildCommentTree(nil, ""))
	require.NotNil(t, BuildCommentTree(nil, "3"))
}
