// services/pet_service.go
package services

import (
	"hash/fnv"
	"math/rand"

	"github.com/wfunc/battleserver/logger"
	"github.com/wfunc/battleserver/models"
	"github.com/wfunc/battleserver/persistence"
)

// PetService 加载玩家出战宠物。宠物收集系统是外部组件,这里只读
// 档案里冻结的出战配置;没有档案的玩家拿一套确定性的默认阵容。
type PetService struct {
	db persistence.Database
}

func NewPetService(db persistence.Database) *PetService {
	return &PetService{db: db}
}

// Loadout returns the player's equipped pets, capped at two. A missing
// profile or empty loadout falls back to DefaultLoadout.
func (s *PetService) Loadout(userID string) []models.BattlePet {
	if s.db != nil {
		pets, err := s.db.LoadPetLoadout(userID)
		if err != nil && err != persistence.ErrRecordNotFound {
			logger.Log.Warnw("pet loadout load failed", "user", userID, "error", err)
		}
		if len(pets) > 2 {
			pets = pets[:2]
		}
		if len(pets) > 0 {
			return pets
		}
	}
	return DefaultLoadout(userID)
}

// DefaultLoadout derives a stable starter pair from the user id, so a
// player without equipped pets sees the same stats every battle.
func DefaultLoadout(userID string) []models.BattlePet {
	h := fnv.New64a()
	h.Write([]byte("loadout:" + userID))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	mk := func(name string) models.BattlePet {
		return models.BattlePet{
			PetID: userID + "-" + name,
			Name:  name,
			MaxHP: 95 + rng.Intn(11),
			Atk:   9 + rng.Intn(3),
			Def:   2 + rng.Intn(3),
		}
	}
	return []models.BattlePet{mk("thumper"), mk("hopscotch")}
}
