package ingestion

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/knoguchi/peermatch/internal/service"
	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// Profession is a pool of skills and interests sampled for one kind of person.
type Profession struct {
	Name      string   `yaml:"name"`
	Skills    []string `yaml:"skills"`
	Interests []string `yaml:"interests"`
	Locations []string `yaml:"locations,omitempty"`
}

// Pools holds everything sample profiles are drawn from.
type Pools struct {
	FirstNames     []string     `yaml:"first_names"`
	LastNames      []string     `yaml:"last_names"`
	Programmer     Profession   `yaml:"programmer"`
	Professions    []Profession `yaml:"professions"`
	OtherLocations []string     `yaml:"other_locations"`
}

// ParsePools decodes YAML pools and checks they can produce profiles.
func ParsePools(data []byte) (*Pools, error) {
	var p Pools
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPools reads pools from path, or the built-in pools when path is empty.
func LoadPools(path string) (*Pools, error) {
	if path == "" {
		return DefaultPools(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return ParsePools(data)
}

// DefaultPools returns the built-in pools.
func DefaultPools() *Pools {
	p, err := ParsePools(defaultFixtures)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pools) validate() error {
	switch {
	case len(p.FirstNames) == 0 || len(p.LastNames) == 0:
		return errors.New("fixtures need first_names and last_names")
	case len(p.Programmer.Skills) < 3 || len(p.Programmer.Interests) < 2:
		return errors.New("programmer pool needs at least 3 skills and 2 interests")
	case len(p.Programmer.Locations) == 0 || len(p.OtherLocations) == 0:
		return errors.New("fixtures need programmer and other locations")
	}
	for _, prof := range p.Professions {
		if len(prof.Skills) < 3 || len(prof.Interests) < 2 {
			return fmt.Errorf("profession %q needs at least 3 skills and 2 interests", prof.Name)
		}
	}
	return nil
}

// Generator draws random sample profiles with unique US phone numbers.
type Generator struct {
	pools  *Pools
	rng    *rand.Rand
	phones map[string]struct{}
}

// NewGenerator creates a generator. Equal seeds give equal sequences.
func NewGenerator(pools *Pools, seed uint64) *Generator {
	return &Generator{
		pools:  pools,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		phones: make(map[string]struct{}),
	}
}

// Sample returns programmers followed by other professionals. Professions are drawn
// without replacement while they last.
func (g *Generator) Sample(programmers, others int) []service.CreatePersonInput {
	out := make([]service.CreatePersonInput, 0, programmers+others)
	for i := 0; i < programmers; i++ {
		out = append(out, g.Programmer())
	}

	order := g.rng.Perm(len(g.pools.Professions))
	for i := 0; i < others && len(order) > 0; i++ {
		out = append(out, g.Professional(g.pools.Professions[order[i%len(order)]]))
	}
	return out
}

// Programmer returns one software developer profile.
func (g *Generator) Programmer() service.CreatePersonInput {
	prog := g.pools.Programmer
	skills := g.pick(prog.Skills, 3+g.rng.IntN(min(4, len(prog.Skills)-2)))
	interests := g.pick(prog.Interests, 2+g.rng.IntN(min(3, len(prog.Interests)-1)))

	return service.CreatePersonInput{
		PhoneNumber: g.phone(),
		Name:        g.name(),
		Skills:      skills,
		Interests:   interests,
		Bio:         "Software developer passionate about " + strings.Join(g.pick(interests, 2), ", "),
		Location:    g.choice(prog.Locations),
	}
}

// Professional returns one profile for prof.
func (g *Generator) Professional(prof Profession) service.CreatePersonInput {
	skills := g.pick(prof.Skills, 3+g.rng.IntN(len(prof.Skills)-2))
	interests := g.pick(prof.Interests, 2+g.rng.IntN(len(prof.Interests)-1))

	locations := prof.Locations
	if len(locations) == 0 {
		locations = g.pools.OtherLocations
	}
	return service.CreatePersonInput{
		PhoneNumber: g.phone(),
		Name:        g.name(),
		Skills:      skills,
		Interests:   interests,
		Bio:         fmt.Sprintf("Experienced %s specializing in %s", strings.ToLower(prof.Name), strings.Join(g.pick(skills, 2), ", ")),
		Location:    g.choice(locations),
	}
}

func (g *Generator) name() string {
	return g.choice(g.pools.FirstNames) + " " + g.choice(g.pools.LastNames)
}

// phone returns a fresh +1 number with a valid leading area-code digit.
func (g *Generator) phone() string {
	for {
		var sb strings.Builder
		sb.WriteString("+1")
		sb.WriteByte(byte('2' + g.rng.IntN(8)))
		for i := 0; i < 9; i++ {
			sb.WriteByte(byte('0' + g.rng.IntN(10)))
		}
		phone := sb.String()
		if _, dup := g.phones[phone]; !dup {
			g.phones[phone] = struct{}{}
			return phone
		}
	}
}

func (g *Generator) choice(items []string) string {
	return items[g.rng.IntN(len(items))]
}

// pick returns n distinct items in random order; n is capped at len(items).
func (g *Generator) pick(items []string, n int) []string {
	n = min(n, len(items))
	out := make([]string, 0, n)
	for _, i := range g.rng.Perm(len(items))[:n] {
		out = append(out, items[i])
	}
	return out
}
