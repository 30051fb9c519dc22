// internal/post/repository.go
//
// SQL access for posts, shared by SQLite and Postgres.
//   - Create picks a unique slug and retries on a concurrent collision.
//   - UpdateIfOwned / DeleteIfOwned check ownership and write in one
//     transaction; the Result says what happened.
//   - List / Count / Archive serve the admin and public listings.

package post

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/schoolpaper/newsroom/internal/database"
)

// Outcome tags the result of an ownership-checked write.
type Outcome int

const (
	NotFound Outcome = iota
	Forbidden
	Updated
	Deleted
)

func (o Outcome) String() string {
	switch o {
	case Forbidden:
		return "forbidden"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "not_found"
	}
}

// Result is what UpdateIfOwned and DeleteIfOwned report. Post is the row
// after an update, or the row as it was before a delete. Before is the row
// an update replaced.
type Result struct {
	Outcome Outcome
	Post    *Post
	Before  *Post
}

// Filter narrows List and Count. Zero values mean "no restriction";
// Limit 0 returns everything.
type Filter struct {
	Status        Status
	Search        string
	AuthorID      string
	PublishedOnly bool
	Limit         int
	Offset        int
}

// ArchiveMonth groups published posts by calendar month.
type ArchiveMonth struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Posts []Post `json:"posts"`
}

const postColumns = `p.id, p.title, p.slug, p.content, p.cover_image, p.description, p.date,
	p.author, p.author_id, p.author_grade, p.author_class, p.tags, p.category, p.status,
	p.created_at, p.updated_at`

const authorDeletedExpr = `CASE WHEN p.author_id IS NOT NULL AND p.author_id <> '' AND u.id IS NULL THEN 1 ELSE 0 END`

const selectPost = `SELECT ` + postColumns + `, ` + authorDeletedExpr + `
	FROM posts p LEFT JOIN users u ON u.id = p.author_id`

// Inside a write transaction the row is locked without the join; Postgres
// refuses FOR UPDATE on the nullable side of an outer join.
const selectPostForWrite = `SELECT ` + postColumns + `, 0 FROM posts p WHERE p.id = ?`

const maxSlugAttempts = 100

// Repository reads and writes posts.
type Repository struct {
	db  *database.DB
	now func() time.Time
}

// NewRepository returns a Repository over db.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Create validates in, stamps the author fields the caller left empty and
// inserts the post with a fresh unique slug.
func (r *Repository) Create(ctx context.Context, author Author, in Input) (*Post, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	p := &Post{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Content:     in.Content,
		CoverImage:  strings.TrimSpace(in.CoverImage),
		Description: Describe(in.Description, in.Content),
		Date:        now,
		Author:      strings.TrimSpace(in.Author),
		AuthorID:    in.AuthorID,
		AuthorGrade: in.AuthorGrade,
		AuthorClass: in.AuthorClass,
		Tags:        in.Tags,
		Category:    strings.TrimSpace(in.Category),
		Status:      in.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Date != nil && !in.Date.IsZero() {
		p.Date = in.Date.UTC()
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.AuthorID == "" {
		p.AuthorID = author.ID
	}
	if p.Author == "" {
		p.Author = author.Name
	}
	if p.AuthorGrade == "" {
		p.AuthorGrade = author.Grade
	}
	if p.AuthorClass == 0 {
		p.AuthorClass = author.Class
	}

	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}

	// A concurrent writer can take the slug between the lookup and the
	// insert; the unique index catches it and we pick again.
	for attempt := 0; attempt < 3; attempt++ {
		p.Slug, err = r.uniqueSlug(ctx, r.db.SQL, p.Title, "")
		if err != nil {
			return nil, err
		}
		_, err = r.db.SQL.ExecContext(ctx, r.db.Rebind(`
			INSERT INTO posts (id, title, slug, content, cover_image, description, date, author, author_id,
				author_grade, author_class, tags, category, status, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
			p.ID, p.Title, p.Slug, p.Content, nullString(p.CoverImage), p.Description, p.Date,
			nullString(p.Author), nullString(p.AuthorID), nullString(p.AuthorGrade), nullInt(p.AuthorClass),
			string(tags), p.Category, string(p.Status), p.CreatedAt, p.UpdatedAt)
		if err == nil {
			return p, nil
		}
		if !database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("insert post: %w", err)
		}
	}
	return nil, fmt.Errorf("insert post: %w", ErrSlugTaken)
}

// Get loads a post by id or returns ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*Post, error) {
	row := r.db.SQL.QueryRowContext(ctx, r.db.Rebind(selectPost+` WHERE p.id = ?`), id)
	return scanPost(row)
}

// GetBySlug loads a post by slug. With publishedOnly, drafts are reported as
// ErrNotFound.
func (r *Repository) GetBySlug(ctx context.Context, slug string, publishedOnly bool) (*Post, error) {
	q := selectPost + ` WHERE p.slug = ?`
	args := []interface{}{slug}
	if publishedOnly {
		q += ` AND p.status = ?`
		args = append(args, string(StatusPublished))
	}
	row := r.db.SQL.QueryRowContext(ctx, r.db.Rebind(q), args...)
	return scanPost(row)
}

// List returns posts matching f, newest date first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Post, error) {
	where, args := f.where()
	q := selectPost + where + ` ORDER BY p.date DESC, p.created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ` + strconv.Itoa(f.Limit)
		if f.Offset > 0 {
			q += ` OFFSET ` + strconv.Itoa(f.Offset)
		}
	}

	rows, err := r.db.SQL.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	out := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Count returns how many posts match f, ignoring Limit and Offset.
func (r *Repository) Count(ctx context.Context, f Filter) (int, error) {
	where, args := f.where()
	var n int
	err := r.db.SQL.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM posts p`+where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return n, nil
}

func (f Filter) where() (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	switch {
	case f.PublishedOnly:
		conds = append(conds, `p.status = ?`)
		args = append(args, string(StatusPublished))
	case f.Status != "":
		conds = append(conds, `p.status = ?`)
		args = append(args, string(f.Status))
	}
	if f.AuthorID != "" {
		conds = append(conds, `p.author_id = ?`)
		args = append(args, f.AuthorID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + escapeLike(strings.ToLower(s)) + "%"
		conds = append(conds, `(lower(p.title) LIKE ? ESCAPE '\' OR lower(p.slug) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(conds, ` AND `), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Archive groups every published post by year and month, newest first.
func (r *Repository) Archive(ctx context.Context) ([]ArchiveMonth, error) {
	posts, err := r.List(ctx, Filter{PublishedOnly: true})
	if err != nil {
		return nil, err
	}
	out := []ArchiveMonth{}
	for _, p := range posts {
		y, m := p.Date.Year(), int(p.Date.Month())
		if n := len(out); n == 0 || out[n-1].Year != y || out[n-1].Month != m {
			out = append(out, ArchiveMonth{Year: y, Month: m})
		}
		last := &out[len(out)-1]
		last.Posts = append(last.Posts, p)
	}
	return out, nil
}

// UpdateIfOwned applies patch when actorID owns the post or isAdmin is set.
// Read, ownership check and write share one transaction, and the write
// repeats the ownership predicate.
func (r *Repository) UpdateIfOwned(ctx context.Context, id, actorID string, isAdmin bool, patch Patch) (Result, error) {
	if err := patch.Validate(); err != nil {
		return Result{}, err
	}

	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanPost(tx.QueryRowContext(ctx, r.db.Rebind(selectPostForWrite+r.db.ForUpdate()), id))
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: NotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !CanEdit(actorID, cur.AuthorID, isAdmin) {
		return Result{Outcome: Forbidden}, nil
	}

	next := *cur
	if err := r.apply(ctx, tx, &next, patch); err != nil {
		return Result{}, err
	}
	tags, err := json.Marshal(next.Tags)
	if err != nil {
		return Result{}, fmt.Errorf("encode tags: %w", err)
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE posts SET title=?, slug=?, content=?, cover_image=?, description=?, date=?, author=?,
			author_grade=?, author_class=?, tags=?, category=?, status=?, updated_at=?
		WHERE id=? AND (?=1 OR author_id=?)`),
		next.Title, next.Slug, next.Content, nullString(next.CoverImage), next.Description, next.Date,
		nullString(next.Author), nullString(next.AuthorGrade), nullInt(next.AuthorClass), string(tags),
		next.Category, string(next.Status), next.UpdatedAt,
		id, boolInt(isAdmin), actorID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return Result{}, fmt.Errorf("update post: slug %q: %w", next.Slug, ErrSlugTaken)
		}
		return Result{}, fmt.Errorf("update post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Result{Outcome: NotFound}, nil
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	updated, err := r.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return Result{Outcome: Updated, Post: updated, Before: cur}, nil
}

// apply merges patch into p, deriving slug and description as needed.
func (r *Repository) apply(ctx context.Context, q queryer, p *Post, patch Patch) error {
	if patch.Title != nil {
		p.Title = *patch.Title
		slug, err := r.uniqueSlug(ctx, q, p.Title, p.ID)
		if err != nil {
			return err
		}
		p.Slug = slug
	}
	switch {
	case patch.Description != nil && strings.TrimSpace(*patch.Description) != "":
		if patch.Content != nil {
			p.Content = *patch.Content
		}
		p.Description = Describe(*patch.Description, p.Content)
	case patch.Content != nil:
		p.Content = *patch.Content
		p.Description = Describe("", p.Content)
	case patch.Description != nil:
		// Blank description: go back to the derived one.
		p.Description = Describe("", p.Content)
	}
	if patch.CoverImage != nil {
		p.CoverImage = strings.TrimSpace(*patch.CoverImage)
	}
	if patch.Date != nil && !patch.Date.IsZero() {
		p.Date = patch.Date.UTC()
	}
	if patch.Author != nil {
		p.Author = strings.TrimSpace(*patch.Author)
	}
	if patch.AuthorGrade != nil {
		p.AuthorGrade = strings.TrimSpace(*patch.AuthorGrade)
	}
	if patch.AuthorClass != nil {
		p.AuthorClass = *patch.AuthorClass
	}
	if patch.Tags != nil {
		p.Tags = *patch.Tags
	}
	if patch.Category != nil {
		p.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	p.UpdatedAt = r.now()
	return nil
}

// DeleteIfOwned removes the post when actorID owns it or isAdmin is set.
func (r *Repository) DeleteIfOwned(ctx context.Context, id, actorID string, isAdmin bool) (Result, error) {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanPost(tx.QueryRowContext(ctx, r.db.Rebind(selectPostForWrite+r.db.ForUpdate()), id))
	if errors.Is(err, ErrNotFound) {
		return Result{Outcome: NotFound}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if !CanDelete(actorID, cur.AuthorID, isAdmin) {
		return Result{Outcome: Forbidden}, nil
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM posts WHERE id=? AND (?=1 OR author_id=?)`),
		id, boolInt(isAdmin), actorID)
	if err != nil {
		return Result{}, fmt.Errorf("delete post: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Result{Outcome: NotFound}, nil
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	return Result{Outcome: Deleted, Post: cur}, nil
}

// uniqueSlug derives a slug from title and appends -2, -3, ... until no
// other post (other than excludeID) uses it.
func (r *Repository) uniqueSlug(ctx context.Context, q queryer, title, excludeID string) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = "post-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		var n int
		err := q.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM posts WHERE slug = ? AND id <> ?`),
			candidate, excludeID).Scan(&n)
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
	return "", fmt.Errorf("no free slug for %q after %d attempts", base, maxSlugAttempts)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row scanner) (*Post, error) {
	var (
		p             Post
		cover, author sql.NullString
		authorID      sql.NullString
		grade         sql.NullString
		class         sql.NullInt64
		tags, status  string
		deleted       int
	)
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &cover, &p.Description, &p.Date,
		&author, &authorID, &grade, &class, &tags, &p.Category, &status,
		&p.CreatedAt, &p.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}
	p.CoverImage = cover.String
	p.Author = author.String
	p.AuthorID = authorID.String
	p.AuthorGrade = grade.String
	p.AuthorClass = int(class.Int64)
	p.Status = Status(status)
	p.AuthorDeleted = deleted == 1
	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil || p.Tags == nil {
		p.Tags = []string{}
	}
	return &p, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
