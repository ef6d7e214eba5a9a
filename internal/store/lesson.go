package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CategoryAlphabet groups the single-letter lessons.
const CategoryAlphabet = "alphabet"

// Lesson teaches one sign.
type Lesson struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Difficulty  string    `json:"difficulty"`
	SignName    string    `json:"sign_name"`
	VideoURL    string    `json:"video_url,omitempty"`
	OrderIndex  int       `json:"order_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// LessonFilter narrows List.
type LessonFilter struct {
	Category string
	Offset   int
	// Limit of zero means 100.
	Limit int
}

// LessonRepository provides CRUD operations for lessons.
type LessonRepository struct {
	db *sql.DB
}

// Lessons returns the lesson repository for this store.
func (s *Store) Lessons() *LessonRepository {
	return &LessonRepository{db: s.db}
}

const lessonColumns = `id, title, description, category, difficulty, sign_name, video_url, order_index, created_at`

func scanLesson(row interface{ Scan(...any) error }) (*Lesson, error) {
	l := &Lesson{}
	err := row.Scan(&l.ID, &l.Title, &l.Description, &l.Category, &l.Difficulty,
		&l.SignName, &l.VideoURL, &l.OrderIndex, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Create inserts a lesson. An empty ID is filled with a new UUID.
func (r *LessonRepository) Create(ctx context.Context, l *Lesson) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Difficulty == "" {
		l.Difficulty = "beginner"
	}
	l.SignName = strings.ToUpper(strings.TrimSpace(l.SignName))
	l.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO lessons (`+lessonColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Title, l.Description, l.Category, l.Difficulty, l.SignName, l.VideoURL, l.OrderIndex, l.CreatedAt,
	)
	return err
}

// GetByID retrieves a lesson by its ID.
func (r *LessonRepository) GetByID(ctx context.Context, id string) (*Lesson, error) {
	l, err := scanLesson(r.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// GetBySign retrieves the first lesson teaching sign.
func (r *LessonRepository) GetBySign(ctx context.Context, sign string) (*Lesson, error) {
	l, err := scanLesson(r.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE sign_name = ? ORDER BY order_index, created_at LIMIT 1`,
		strings.ToUpper(strings.TrimSpace(sign))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// List retrieves lessons in curriculum order.
func (r *LessonRepository) List(ctx context.Context, f LessonFilter) ([]*Lesson, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `SELECT ` + lessonColumns + ` FROM lessons`
	var args []any
	if f.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, f.Category)
	}
	query += ` ORDER BY order_index, created_at LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []*Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// Delete removes a lesson and its progress rows.
func (r *LessonRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return rowsAffected(result)
}

// alphabetTips holds the teaching tip for each letter.
var alphabetTips = [26]string{
	"Make a fist with thumb alongside",
	"Flat hand with fingers together, thumb across palm",
	"Curve hand to form a 'C' shape",
	"Index finger up, other fingers touch thumb",
	"All fingers bent down touching thumb",
	"Index and thumb form circle, other fingers up",
	"Index and thumb point horizontally",
	"Index and middle fingers extended sideways",
	"Pinky finger extended up, others closed",
	"Like 'I' but draw a 'J' shape in air",
	"Index and middle up, thumb between them",
	"Index up, thumb out at a right angle",
	"Thumb under first three fingers",
	"Thumb under first two fingers",
	"All fingers curved into 'O' shape",
	"Like 'K' but pointed down",
	"Like 'G' but pointed down",
	"Cross index over middle finger",
	"Fist with thumb over fingers",
	"Thumb between index and middle",
	"Index and middle fingers up together",
	"Index and middle form 'V' shape",
	"Three fingers up (index, middle, ring)",
	"Index finger bent into hook shape",
	"Thumb and pinky extended out",
	"Draw 'Z' shape with index finger",
}

// SeedAlphabet creates the A-Z lessons that do not exist yet and returns
// how many were created.
func (r *LessonRepository) SeedAlphabet(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	created := 0
	now := time.Now()
	for i, tip := range alphabetTips {
		letter := string(rune('A' + i))

		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM lessons WHERE sign_name = ? AND category = ?`,
			letter, CategoryAlphabet,
		).Scan(&exists)
		if err != nil {
			return 0, err
		}
		if exists > 0 {
			continue
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO lessons (`+lessonColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(),
			"Letter "+letter,
			fmt.Sprintf("Learn how to sign the letter '%s' in American Sign Language. %s.", letter, tip),
			CategoryAlphabet,
			"beginner",
			letter,
			"https://www.startasl.com/american-sign-language-alphabet/_"+strings.ToLower(letter),
			i+1,
			now,
		)
		if err != nil {
			return 0, err
		}
		created++
	}

	return created, tx.Commit()
}
