package query

import (
	"fmt"
	"sort"
	"strings"

	"nendo/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sort keys besides plain columns.
const (
	OrderRandom     = "random"
	OrderCollection = "collection"
)

// Direction selects which side of a track to track relationship to follow.
type Direction string

const (
	// DirectionFrom follows relationships whose source is the track.
	DirectionFrom Direction = "from"
	// DirectionTo follows relationships whose target is the track.
	DirectionTo   Direction = "to"
	DirectionBoth Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionFrom, DirectionTo, DirectionBoth:
		return true
	}
	return false
}

// Related restricts results to tracks related to TrackID.
type Related struct {
	TrackID          uuid.UUID
	Direction        Direction
	RelationshipType string
}

var trackColumns = map[string]string{
	"created_at": "tracks.created_at",
	"updated_at": "tracks.updated_at",
	"track_type": "tracks.track_type",
	"visibility": "tracks.visibility",
	"id":         "tracks.id",
	"user_id":    "tracks.user_id",
}

// TrackFilter is the full set of predicates over tracks.
type TrackFilter struct {
	UserID       uuid.UUID
	TrackTypes   []string
	CollectionID uuid.UUID
	Related      *Related
	SearchMeta   []string
	Filters      map[string]Spec
	// PluginNames restricts the plugin data considered by Filters. Empty means
	// all plugins.
	PluginNames    []string
	OrderBy        string
	Order          string
	Limit          int
	Offset         int
	IncludeDeleted bool
}

// Validate checks the ordering and relationship settings.
func (f TrackFilter) Validate() error {
	switch f.OrderBy {
	case "", OrderRandom:
	case OrderCollection:
		if f.CollectionID == uuid.Nil {
			return fmt.Errorf("order by collection needs a collection id")
		}
	default:
		if _, ok := trackColumns[f.OrderBy]; !ok {
			return fmt.Errorf("unknown order column %q", f.OrderBy)
		}
	}
	switch strings.ToLower(f.Order) {
	case "", "asc", "desc":
	default:
		return fmt.Errorf("unknown order direction %q", f.Order)
	}
	if f.Related != nil && !f.Related.Direction.Valid() {
		return fmt.Errorf("unknown relationship direction %q", f.Related.Direction)
	}
	if f.Limit < 0 || f.Offset < 0 {
		return fmt.Errorf("limit and offset must not be negative")
	}
	return nil
}

// Apply is a gorm scope for a query on model.Track.
func (f TrackFilter) Apply(db *gorm.DB) *gorm.DB {
	if err := f.Validate(); err != nil {
		_ = db.AddError(err)
		return db
	}
	dialect := db.Dialector.Name()

	if f.UserID != uuid.Nil {
		db = db.Where("tracks.user_id = ?", f.UserID)
	}
	if !f.IncludeDeleted {
		db = db.Where("tracks.visibility <> ?", model.VisibilityDeleted)
	}
	switch len(f.TrackTypes) {
	case 0:
	case 1:
		db = db.Where("tracks.track_type = ?", f.TrackTypes[0])
	default:
		db = db.Where("tracks.track_type IN ?", f.TrackTypes)
	}
	if f.CollectionID != uuid.Nil {
		db = db.Joins("JOIN track_collection_relationships AS tcr ON tcr.source_id = tracks.id AND tcr.target_id = ?", f.CollectionID)
	}
	if f.Related != nil {
		db = db.Where(relatedClause(db, *f.Related))
	}

	for _, token := range f.SearchMeta {
		if token == "" {
			continue
		}
		pattern := containsPattern(token)
		db = db.Where(
			fmt.Sprintf("(LOWER(%s) LIKE ? ESCAPE '!' OR LOWER(%s) LIKE ? ESCAPE '!')", jsonText(dialect, "tracks.meta"), jsonText(dialect, "tracks.resource")),
			pattern, pattern,
		)
	}

	keys := make([]string, 0, len(f.Filters))
	for k := range f.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		spec := f.Filters[key]
		if spec == nil {
			continue
		}
		db = db.Where("EXISTS (?)", pluginDataExists(db, dialect, key, spec, f.PluginNames))
	}

	db = applyOrder(db, dialect, f)
	if f.Limit > 0 {
		db = db.Limit(f.Limit)
		if f.Offset > 0 {
			db = db.Offset(f.Offset)
		}
	}
	return db
}

func relatedClause(db *gorm.DB, rel Related) clause.Expression {
	sub := func(selectCol, matchCol string) *gorm.DB {
		q := db.Session(&gorm.Session{NewDB: true}).
			Model(&model.TrackTrackRelationship{}).
			Select(selectCol).
			Where(matchCol+" = ?", rel.TrackID)
		if rel.RelationshipType != "" {
			q = q.Where("relationship_type = ?", rel.RelationshipType)
		}
		return q
	}
	from := gorm.Expr("tracks.id IN (?)", sub("target_id", "source_id"))
	to := gorm.Expr("tracks.id IN (?)", sub("source_id", "target_id"))
	switch rel.Direction {
	case DirectionFrom:
		return from
	case DirectionTo:
		return to
	default:
		return clause.Or(from, to)
	}
}

func pluginDataExists(db *gorm.DB, dialect, key string, spec Spec, pluginNames []string) *gorm.DB {
	sub := db.Session(&gorm.Session{NewDB: true}).
		Table("plugin_data").
		Select("1").
		Where("plugin_data.track_id = tracks.id").
		Where(clause.Eq{Column: clause.Column{Table: "plugin_data", Name: "key"}, Value: key})
	if len(pluginNames) > 0 {
		sub = sub.Where("plugin_data.plugin_name IN ?", pluginNames)
	}
	switch s := spec.(type) {
	case Range:
		cond, args := numericCondition(dialect, "plugin_data.value")
		sub = sub.Where(cond, args...).
			Where(fmt.Sprintf("%s BETWEEN ? AND ?", floatCast(dialect, "plugin_data.value")), s.Low, s.High)
	case Multi:
		if len(s.Values) == 0 {
			sub = sub.Where("1 = 0")
		} else {
			sub = sub.Where("plugin_data.value IN ?", s.Values)
		}
	case Fuzzy:
		sub = sub.Where("LOWER(plugin_data.value) LIKE ? ESCAPE '!'", containsPattern(s.Value))
	}
	return sub
}

func applyOrder(db *gorm.DB, dialect string, f TrackFilter) *gorm.DB {
	dir := "ASC"
	if strings.EqualFold(f.Order, "desc") {
		dir = "DESC"
	}
	switch f.OrderBy {
	case OrderRandom:
		return db.Order(RandomOrder(dialect))
	case OrderCollection:
		return db.Order("tcr.relationship_position " + dir)
	case "":
		if f.CollectionID != uuid.Nil {
			return db.Order("tcr.relationship_position ASC")
		}
		return db.Order("tracks.created_at ASC").Order("tracks.id ASC")
	default:
		return db.Order(trackColumns[f.OrderBy] + " " + dir).Order("tracks.id ASC")
	}
}

// RandomOrder is the dialect's full shuffle expression.
func RandomOrder(dialect string) string {
	if dialect == "mysql" {
		return "RAND()"
	}
	return "RANDOM()"
}

func floatCast(dialect, column string) string {
	if dialect == "mysql" {
		return "CAST(" + column + " AS DOUBLE)"
	}
	return "CAST(" + column + " AS REAL)"
}

// numericPattern is the shape of a decimal or exponent number.
const numericPattern = `^[-+]?([0-9]+[.]?[0-9]*|[.][0-9]+)([eE][-+]?[0-9]+)?$`

// numericCondition keeps only rows whose column holds nothing but a number
// literal. CAST alone reads "15 bpm" as 15 and "loud" as 0. SQLite has no
// REGEXP, so there the shape is spelled out with GLOB.
func numericCondition(dialect, column string) (string, []interface{}) {
	if dialect == "mysql" {
		return column + " REGEXP ?", []interface{}{numericPattern}
	}
	v := "LOWER(" + column + ")"
	conds := []string{
		v + " NOT GLOB '*[^0-9.e+-]*'",
		v + " GLOB '*[0-9]*'",
		fmt.Sprintf("LENGTH(%s) - LENGTH(REPLACE(%s, '.', '')) <= 1", v, v),
		fmt.Sprintf("LENGTH(%s) - LENGTH(REPLACE(%s, 'e', '')) <= 1", v, v),
		// signs lead the mantissa or the exponent
		fmt.Sprintf("REPLACE(REPLACE(SUBSTR(%s, 2), 'e-', 'e'), 'e+', 'e') NOT GLOB '*[+-]*'", v),
		v + " NOT GLOB '*e*.*'",
		"(" + v + " NOT GLOB '*e*' OR (" + v + " GLOB '*[0-9]*e*' AND " + v + " GLOB '*e*[0-9]'))",
	}
	return "(" + strings.Join(conds, " AND ") + ")", nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// containsPattern is a case-insensitive substring LIKE pattern, to be used
// with ESCAPE '!'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(s)) + "%"
}

func jsonText(dialect, column string) string {
	if dialect == "mysql" {
		return "CAST(" + column + " AS CHAR)"
	}
	return column
}
