// questionbank/provider.go
package questionbank

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/persistence"
)

var ErrCourseEmpty = errors.New("course has no questions")

// Provider 题库接口。对战加载阶段一次性抽取整场所需的题目。
type Provider interface {
	Questions(ctx context.Context, courseID string, n int) ([]models.Question, error)
}

// DBProvider serves questions straight from the database; random sampling
// happens in SQL.
type DBProvider struct {
	db persistence.Database
}

func NewDBProvider(db persistence.Database) *DBProvider {
	return &DBProvider{db: db}
}

func (p *DBProvider) Questions(ctx context.Context, courseID string, n int) ([]models.Question, error) {
	questions, err := p.db.LoadQuestions(courseID, n)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrCourseEmpty
	}
	// A thin course may return fewer than n; repeat the pool so every
	// round has a question.
	base := len(questions)
	for i := 0; len(questions) < n; i++ {
		questions = append(questions, questions[i%base])
	}
	return questions[:n], nil
}

// StaticProvider serves a fixed in-memory pool. Used by bot-only smoke
// setups and tests; also the fallback when no database is configured.
type StaticProvider struct {
	mu   sync.Mutex
	rng  *rand.Rand
	pool map[string][]models.Question
}

func NewStaticProvider(seed int64) *StaticProvider {
	return &StaticProvider{
		rng:  rand.New(rand.NewSource(seed)),
		pool: make(map[string][]models.Question),
	}
}

// Load replaces the pool for a course.
func (p *StaticProvider) Load(courseID string, questions []models.Question) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pool[courseID] = questions
}

func (p *StaticProvider) Questions(ctx context.Context, courseID string, n int) ([]models.Question, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pool := p.pool[courseID]
	if len(pool) == 0 {
		pool = p.pool[""] // default pool
	}
	if len(pool) == 0 {
		return nil, ErrCourseEmpty
	}

	out := make([]models.Question, 0, n)
	perm := p.rng.Perm(len(pool))
	for len(out) < n {
		for _, idx := range perm {
			out = append(out, pool[idx])
			if len(out) == n {
				break
			}
		}
	}
	return out, nil
}

// DefaultPool is a small built-in question set so the server can run a
// smoke battle with no database behind it.
func DefaultPool() []models.Question {
	return []models.Question{
		{
			ID:          "builtin-1",
			Text:        "What is 7 x 8?",
			Choices:     []string{"54", "56", "58", "48", "64"},
			Answer:      1,
			Explanation: "7 x 8 = 56.",
			Topic:       "arithmetic",
		},
		{
			ID:          "builtin-2",
			Text:        "Which planet is closest to the sun?",
			Choices:     []string{"Venus", "Earth", "Mercury", "Mars", "Jupiter"},
			Answer:      2,
			Explanation: "Mercury orbits closest to the sun.",
			Topic:       "astronomy",
		},
		{
			ID:          "builtin-3",
			Text:        "What is the chemical symbol for gold?",
			Choices:     []string{"Ag", "Au", "Gd", "Go", "Fe"},
			Answer:      1,
			Explanation: "Au, from the Latin aurum.",
			Topic:       "chemistry",
		},
		{
			ID:          "builtin-4",
			Text:        "How many sides does a hexagon have?",
			Choices:     []string{"5", "6", "7", "8", "4"},
			Answer:      1,
			Explanation: "Hexa- means six.",
			Topic:       "geometry",
		},
		{
			ID:          "builtin-5",
			Text:        "Which ocean is the largest?",
			Choices:     []string{"Atlantic", "Indian", "Arctic", "Pacific", "Southern"},
			Answer:      3,
			Explanation: "The Pacific covers about a third of the globe.",
			Topic:       "geography",
		},
		{
			ID:          "builtin-6",
			Text:        "What is the square root of 144?",
			Choices:     []string{"10", "11", "12", "13", "14"},
			Answer:      2,
			Explanation: "12 x 12 = 144.",
			Topic:       "arithmetic",
		},
		{
			ID:          "builtin-7",
			Text:        "Which gas do plants absorb from the air?",
			Choices:     []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Hydrogen", "Helium"},
			Answer:      2,
			Explanation: "Photosynthesis consumes carbon dioxide.",
			Topic:       "biology",
		},
		{
			ID:          "builtin-8",
			Text:        "What is 15% of 200?",
			Choices:     []string{"20", "25", "30", "35", "40"},
			Answer:      2,
			Explanation: "0.15 x 200 = 30.",
			Topic:       "arithmetic",
		},
		{
			ID:          "builtin-9",
			Text:        "Which continent is the Sahara desert on?",
			Choices:     []string{"Asia", "Africa", "Australia", "South America", "Europe"},
			Answer:      1,
			Explanation: "The Sahara spans northern Africa.",
			Topic:       "geography",
		},
		{
			ID:          "builtin-10",
			Text:        "What is the boiling point of water at sea level?",
			Choices:     []string{"90C", "95C", "100C", "105C", "110C"},
			Answer:      2,
			Explanation: "Water boils at 100C at one atmosphere.",
			Topic:       "physics",
		},
	}
}
