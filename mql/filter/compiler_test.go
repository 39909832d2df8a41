package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/mql-go/mql/schema"
)

func albumRegistry() *schema.Registry {
	album := schema.NewModel("Album").
		Scalar("album_id", schema.Int).
		Scalar("title", schema.Text).
		Scalar("release_date", schema.Date).
		Scalar("price", schema.Float).
		Scalar("featured", schema.Bool).
		Relation("artist", "Artist", schema.One).
		Relation("tracks", "Track", schema.Many)
	artist := schema.NewModel("Artist").
		Scalar("artist_id", schema.Int).
		Scalar("name", schema.Text)
	track := schema.NewModel("Track").
		Scalar("track_id", schema.Int).
		Scalar("name", schema.Text).
		Scalar("milliseconds", schema.Int).
		Scalar("unit_price", schema.Float).
		Relation("playlists", "Playlist", schema.Many)
	playlist := schema.NewModel("Playlist").
		Scalar("playlist_id", schema.Int).
		Scalar("name", schema.Text).
		Scalar("private", schema.Bool)
	return schema.NewRegistry().Add(album, artist, track, playlist)
}

func compileAlbum(t *testing.T, filters map[string]any, opts Options) Node {
	t.Helper()
	node, err := Compile(albumRegistry(), "Album", filters, opts)
	require.NoError(t, err)
	return node
}

func titleEq(value any) ComparisonNode {
	return ComparisonNode{Field: "title", Type: schema.Text, Op: CompareEq, Value: value}
}

func TestCompileEmpty(t *testing.T) {
	t.Run("nil document", func(t *testing.T) {
		node, err := Compile(albumRegistry(), "Album", nil, Options{})
		require.NoError(t, err)
		assert.Nil(t, node)
	})
	t.Run("empty document", func(t *testing.T) {
		node, err := Compile(albumRegistry(), "Album", map[string]any{}, Options{})
		require.NoError(t, err)
		assert.Nil(t, node)
	})
	t.Run("unknown root model", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Invoice", map[string]any{"title": "x"}, Options{})
		var ufe *schema.UnknownFieldError
		require.True(t, errors.As(err, &ufe))
		assert.Equal(t, "Invoice", ufe.Model)
	})
}

func TestCompileImplicitEq(t *testing.T) {
	implicit := compileAlbum(t, map[string]any{"title": "Quiet Signal"}, Options{})
	explicit := compileAlbum(t, map[string]any{"title": map[string]any{"$eq": "Quiet Signal"}}, Options{})

	assert.True(t, implicit.Equal(titleEq("Quiet Signal")), "got %v", implicit)
	assert.True(t, implicit.Equal(explicit))

	cmp := implicit.(ComparisonNode)
	assert.Equal(t, "title", cmp.DataKey)
}

func TestCompileComparisonCoercion(t *testing.T) {
	t.Run("string to int", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"album_id": map[string]any{"$lt": "5"}}, Options{})
		expected := ComparisonNode{Field: "album_id", Type: schema.Int, Op: CompareLt, Value: int64(5)}
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("string to date", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"release_date": map[string]any{"$gte": "2001-01-20"}}, Options{})
		cmp := node.(ComparisonNode)
		assert.Equal(t, CompareGte, cmp.Op)
		assert.Equal(t, time.Date(2001, 1, 20, 0, 0, 0, 0, time.UTC), cmp.Value)
	})
	t.Run("string to bool", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"featured": "false"}, Options{})
		expected := ComparisonNode{Field: "featured", Type: schema.Bool, Op: CompareEq, Value: false}
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("unconvertible value", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{"album_id": map[string]any{"$gt": "many"}}, Options{})
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CodeDataConversion, fe.Code)
		assert.Equal(t, "album_id", fe.DataKey)
	})
}

func TestCompileSiblingKeys(t *testing.T) {
	node := compileAlbum(t, map[string]any{
		"title":    "Quiet Signal",
		"album_id": 3,
	}, Options{})

	expected := And(
		ComparisonNode{Field: "album_id", Type: schema.Int, Op: CompareEq, Value: int64(3)},
		titleEq("Quiet Signal"),
	)
	assert.True(t, node.Equal(expected), "got %v", node)
}

func TestCompileAndOr(t *testing.T) {
	t.Run("explicit and keeps document order", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"$and": []any{
			map[string]any{"title": "a"},
			map[string]any{"album_id": 1},
		}}, Options{})
		expected := And(
			titleEq("a"),
			ComparisonNode{Field: "album_id", Type: schema.Int, Op: CompareEq, Value: int64(1)},
		)
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("or", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"$or": []any{
			map[string]any{"title": "a"},
			map[string]any{"title": "b"},
		}}, Options{})
		expected := Or(titleEq("a"), titleEq("b"))
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("single operand collapses", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"$or": []any{map[string]any{"title": "a"}}}, Options{})
		assert.True(t, node.Equal(titleEq("a")), "got %v", node)
	})
	t.Run("non list value", func(t *testing.T) {
		for _, op := range []string{"$and", "$or"} {
			_, err := Compile(albumRegistry(), "Album", map[string]any{op: "oops"}, Options{})
			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, CodeInvalidOp, fe.Code)
		}
	})
	t.Run("nested compounds", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"$or": []any{
			map[string]any{"$and": []any{
				map[string]any{"title": "a"},
				map[string]any{"featured": true},
			}},
			map[string]any{"album_id": 2},
		}}, Options{})
		expected := Or(
			And(
				titleEq("a"),
				ComparisonNode{Field: "featured", Type: schema.Bool, Op: CompareEq, Value: true},
			),
			ComparisonNode{Field: "album_id", Type: schema.Int, Op: CompareEq, Value: int64(2)},
		)
		assert.True(t, node.Equal(expected), "got %v", node)
	})
}

func TestCompileNotAndNor(t *testing.T) {
	t.Run("not", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"$not": map[string]any{"title": "a"}}, Options{})
		assert.True(t, node.Equal(Not(titleEq("a"))), "got %v", node)
	})
	t.Run("double negation stays structural", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{
			"$not": map[string]any{"$not": map[string]any{"title": "a"}},
		}, Options{})
		assert.True(t, node.Equal(Not(Not(titleEq("a")))), "got %v", node)
	})
	t.Run("nor is not of or", func(t *testing.T) {
		list := []any{
			map[string]any{"title": "a"},
			map[string]any{"title": "b"},
		}
		nor := compileAlbum(t, map[string]any{"$nor": list}, Options{})
		notOr := compileAlbum(t, map[string]any{"$not": map[string]any{"$or": list}}, Options{})
		assert.True(t, nor.Equal(notOr), "got %v vs %v", nor, notOr)
	})
}

func TestCompileRelationBoundaries(t *testing.T) {
	nameCmp := ComparisonNode{Field: "name", Type: schema.Text, Op: CompareEq, Value: "Hush"}

	t.Run("dotted path over to-many opens a scope", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"tracks.name": "Hush"}, Options{})
		expected := Exists("tracks", "Track", schema.Many, nameCmp)
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("dotted path over to-one opens a scope", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"artist.name": "Silent Alarm"}, Options{})
		expected := Exists("artist", "Artist", schema.One,
			ComparisonNode{Field: "name", Type: schema.Text, Op: CompareEq, Value: "Silent Alarm"})
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("two level path opens nested scopes", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"tracks.playlists.private": false}, Options{})
		expected := Exists("tracks", "Track", schema.Many,
			Exists("tracks.playlists", "Playlist", schema.Many,
				ComparisonNode{Field: "private", Type: schema.Bool, Op: CompareEq, Value: false}))
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("sibling paths get separate scopes", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{
			"tracks.name":       "Hush",
			"tracks.unit_price": 0.69,
		}, Options{})
		expected := And(
			Exists("tracks", "Track", schema.Many, nameCmp),
			Exists("tracks", "Track", schema.Many,
				ComparisonNode{Field: "unit_price", Type: schema.Float, Op: CompareEq, Value: 0.69}),
		)
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("explicit elemMatch shares one scope", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{
			"tracks": map[string]any{"$elemMatch": map[string]any{
				"name":       "Hush",
				"unit_price": 0.69,
			}},
		}, Options{})
		expected := Exists("tracks", "Track", schema.Many, And(
			nameCmp,
			ComparisonNode{Field: "unit_price", Type: schema.Float, Op: CompareEq, Value: 0.69},
		))
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("relation map without elemMatch splits scopes", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{
			"tracks": map[string]any{
				"name":       "Hush",
				"unit_price": 0.69,
			},
		}, Options{})
		expected := And(
			Exists("tracks", "Track", schema.Many, nameCmp),
			Exists("tracks", "Track", schema.Many,
				ComparisonNode{Field: "unit_price", Type: schema.Float, Op: CompareEq, Value: 0.69}),
		)
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("operators inside a scope", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{
			"tracks.milliseconds": map[string]any{"$gte": 60000, "$lt": 240000},
		}, Options{})
		expected := Exists("tracks", "Track", schema.Many, And(
			ComparisonNode{Field: "milliseconds", Type: schema.Int, Op: CompareGte, Value: int64(60000)},
			ComparisonNode{Field: "milliseconds", Type: schema.Int, Op: CompareLt, Value: int64(240000)},
		))
		assert.True(t, node.Equal(expected), "got %v", node)
	})
}

func TestCompileRelationErrors(t *testing.T) {
	t.Run("relation compared to primitive", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{"tracks": 7}, Options{})
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CodeInvalidRelationComp, fe.Code)
	})
	t.Run("relation compared to empty object", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{"tracks": map[string]any{}}, Options{})
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CodeInvalidEmptyComp, fe.Code)
	})
	t.Run("relation equality operator", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album",
			map[string]any{"tracks": map[string]any{"$eq": 7}}, Options{})
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CodeInvalidRelationComp, fe.Code)
	})
	t.Run("attribute compared to object", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album",
			map[string]any{"title": map[string]any{"name": "x"}}, Options{})
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CodeInvalidAttrComp, fe.Code)
	})
	t.Run("elemMatch on scalar", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album",
			map[string]any{"title": map[string]any{"$elemMatch": map[string]any{"x": 1}}}, Options{})
		var fe *FieldError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, CodeInvalidElemMatch, fe.Code)
	})
	t.Run("unknown field", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{"bogus": 1}, Options{})
		var ufe *schema.UnknownFieldError
		require.True(t, errors.As(err, &ufe))
		assert.Equal(t, "bogus", ufe.Field)
	})
}

func TestCompileWhitelist(t *testing.T) {
	t.Run("allowed path", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"title": "x"},
			Options{Whitelist: WhitelistOf("title")})
		assert.True(t, node.Equal(titleEq("x")))
	})
	t.Run("rejected path", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{"album_id": 1},
			Options{Whitelist: WhitelistOf("title")})
		var pe *PermissionError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, CodePermission, pe.Code)
		assert.Equal(t, "album_id", pe.DataKey)
	})
	t.Run("nested path checked with full internal path", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"tracks.name": "Hush"},
			Options{Whitelist: WhitelistOf("tracks.name")})
		assert.IsType(t, ExistsNode{}, node)

		_, err := Compile(albumRegistry(), "Album", map[string]any{"tracks.unit_price": 1},
			Options{Whitelist: WhitelistOf("tracks.name")})
		var pe *PermissionError
		require.True(t, errors.As(err, &pe))
	})
	t.Run("rejection aborts the whole compile", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{
			"title":    "x",
			"album_id": 1,
		}, Options{Whitelist: WhitelistOf("title")})
		var pe *PermissionError
		require.True(t, errors.As(err, &pe))
	})
	t.Run("nil whitelist allows every resolvable path", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"tracks.playlists.name": "mix"}, Options{})
		assert.IsType(t, ExistsNode{}, node)
	})
}

func TestCompileComplexityLimit(t *testing.T) {
	filters := map[string]any{
		"title":    "x",
		"album_id": 1,
	}

	t.Run("under the limit", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", filters, Options{ComplexityLimit: 100})
		assert.NoError(t, err)
	})
	t.Run("over the limit", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", filters, Options{ComplexityLimit: 1})
		var tce *TooComplexError
		require.True(t, errors.As(err, &tce))
		assert.Equal(t, 1, tce.Limit)
	})
	t.Run("zero disables the check", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", filters, Options{})
		assert.NoError(t, err)
	})
}

func TestCompileNestedConditions(t *testing.T) {
	seed := ComparisonNode{Field: "private", Type: schema.Bool, Op: CompareEq, Value: false}

	t.Run("seeded before user expressions", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"tracks.playlists.name": "mix"}, Options{
			NestedConditions: NestedConditionsMap(map[string][]Node{
				"tracks.playlists": {seed},
			}),
		})
		expected := Exists("tracks", "Track", schema.Many,
			Exists("tracks.playlists", "Playlist", schema.Many, And(
				seed,
				ComparisonNode{Field: "name", Type: schema.Text, Op: CompareEq, Value: "mix"},
			)))
		assert.True(t, node.Equal(expected), "got %v", node)
	})
	t.Run("invoked once per opened scope", func(t *testing.T) {
		var calls []string
		_, err := Compile(albumRegistry(), "Album",
			map[string]any{"tracks.playlists.name": "mix"},
			Options{NestedConditions: func(path string) []Node {
				calls = append(calls, path)
				return nil
			}})
		require.NoError(t, err)
		assert.Equal(t, []string{"tracks", "tracks.playlists"}, calls)
	})
}

func TestCompileKeyTranslator(t *testing.T) {
	camelToSnake := func(path string) string {
		switch path {
		case "trackList.unitPrice":
			return "tracks.unit_price"
		case "title":
			return "title"
		}
		return ""
	}

	t.Run("translated path resolves", func(t *testing.T) {
		var seen []string
		node := compileAlbum(t, map[string]any{"trackList.unitPrice": 0.99}, Options{
			KeyTranslator: camelToSnake,
			Whitelist: func(path string) bool {
				seen = append(seen, path)
				return true
			},
		})
		expected := Exists("tracks", "Track", schema.Many,
			ComparisonNode{Field: "unit_price", Type: schema.Float, Op: CompareEq, Value: 0.99})
		assert.True(t, node.Equal(expected), "got %v", node)
		// The whitelist always sees internal names.
		assert.Contains(t, seen, "tracks.unit_price")
	})
	t.Run("data key stays external", func(t *testing.T) {
		node := compileAlbum(t, map[string]any{"trackList.unitPrice": 0.99},
			Options{KeyTranslator: camelToSnake})
		exists := node.(ExistsNode)
		cmp := exists.Inner.(ComparisonNode)
		assert.Equal(t, "trackList.unitPrice", cmp.DataKey)
	})
	t.Run("untranslatable key is unknown", func(t *testing.T) {
		_, err := Compile(albumRegistry(), "Album", map[string]any{"mystery": 1},
			Options{KeyTranslator: camelToSnake})
		var ufe *schema.UnknownFieldError
		require.True(t, errors.As(err, &ufe))
	})
}
