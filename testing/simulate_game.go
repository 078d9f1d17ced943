package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/tatianab/conestoga/internal/cli"
	"github.com/tatianab/conestoga/internal/config"
	"github.com/tatianab/conestoga/internal/game"
	"github.com/tatianab/conestoga/internal/logging"
)

// maxSteps bounds the run in case the trail never ends.
const maxSteps = 2000

// seed fixes the run when CONESTOGA_SEED is unset.
const seed = 1848

func main() {
	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Seed == 0 {
		cfg.Seed = seed
	}

	logger, flush, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer flush()

	s, err := cli.Open(ctx, cfg, "", logger)
	if err != nil {
		log.Fatalf("Failed to open session: %v", err)
	}
	defer s.Close()
	fmt.Printf("Run %s, seed %d, online=%v\n\n", s.Run, s.Seed, cfg.Online())

	c := s.Controller
	for step := 0; step < maxSteps; step++ {
		switch c.Mode() {
		case game.ModeTravel:
			if err := c.Travel(); err != nil {
				log.Fatalf("travel: %v", err)
			}
		case game.ModeLoadingEvent, game.ModeLoadingResolution:
			if !c.Tick() {
				time.Sleep(100 * time.Millisecond)
			}
		case game.ModeEvent:
			playEvent(c)
		case game.ModeResolution:
			printResult(c)
			if err := c.Continue(); err != nil {
				log.Fatalf("continue: %v", err)
			}
		case game.ModeGameOver:
			finish(c, s, logger)
			return
		}
		if n := c.OfflineNotice(); n != "" {
			fmt.Printf("NOTICE: %s\n\n", n)
		}
	}
	fmt.Println("Stopped: step limit reached")
}

// playEvent takes the first choice the party can afford.
func playEvent(c *game.Controller) {
	ev, rec := c.Event()
	fmt.Printf("--- Day %d: %s [%s, %s/%s] ---\n", c.State().Day, ev.Title, ev.Tier, rec.Source, rec.Reason)
	fmt.Println(ev.Narrative)
	for _, ch := range ev.Choices {
		if why := c.LockReason(ch); why != "" {
			fmt.Printf("  (locked: %s) %s\n", why, ch.Text)
			continue
		}
		fmt.Printf("Choice: %s\n", ch.Text)
		if err := c.Choose(ch.ID); err != nil {
			log.Fatalf("choose %s: %v", ch.ID, err)
		}
		if c.Mode() == game.ModeTravel {
			printResult(c)
		}
		return
	}
	log.Fatalf("event %s offers no open choice", ev.EventID)
}

func printResult(c *game.Controller) {
	r := c.Result()
	if r == nil {
		return
	}
	if r.Check != nil {
		fmt.Printf("Check %s: %d + %d vs %d, success=%v\n", r.Check.Skill, r.Roll, r.Bonus, r.Check.DC, r.Success)
	}
	fmt.Printf("Outcome: %s\n", r.Narrative)
	if r.Aborted {
		fmt.Printf("ABORTED: %v\n", r.Err)
	}
	st := c.State()
	fmt.Printf("Supplies: %v  Miles: %d/%d\n\n", st.Resources, st.MilesTraveled, st.TargetMiles)
}

func finish(c *game.Controller, s *cli.Session, logger *zap.Logger) {
	victory, why := c.Over()
	st := c.State()
	if victory {
		fmt.Printf("Game Ended: Reached Oregon on day %d (%s)\n", st.Day, why)
	} else {
		fmt.Printf("Game Ended: Lost on day %d (%s)\n", st.Day, why)
	}
	stats := c.Status()
	fmt.Printf("Events: %d, deck events: %d, deck outcomes: %d, generated: %d\n",
		st.EventsSeen, stats.EventFallbacks, stats.ResolutionFallbacks, stats.Generated)
	logger.Info("simulation finished", zap.String("run", s.Run), zap.Bool("victory", victory), zap.Int("day", st.Day))
}
