package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	Host     string   `koanf:"host"`
	Listen   string   `koanf:"listen"`
	Database Database `koanf:"db"`
	Store    Store    `koanf:"store"`
	Recovery Recovery `koanf:"recovery"`
	Calendar Calendar `koanf:"calendar"`
	Sync     Sync     `koanf:"sync"`
	Google   Google   `koanf:"google"`
}

type Database struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	User   string `koanf:"user"`
	Pass   string `koanf:"pass"`
	Name   string `koanf:"name"`
	Schema string `koanf:"schema"`
}

// Store controls how events are written to the document store.
type Store struct {
	Collection     string        `koanf:"collection"`
	MaxRetries     int           `koanf:"maxretries"`
	RetryBaseDelay time.Duration `koanf:"retrybasedelay"`
}

// Recovery configures the local queue of writes that could not reach the store.
type Recovery struct {
	Path         string `koanf:"path"`
	MaxEntries   int    `koanf:"maxentries"`
	MaxAttempts  int    `koanf:"maxattempts"`
	DrainOnStart bool   `koanf:"drainonstart"`
	DrainCron    string `koanf:"draincron"`
}

type Calendar struct {
	// Timezone anchors date-only inputs (noon local time).
	Timezone       string `koanf:"timezone"`
	ListPastDays   int    `koanf:"listpastdays"`
	ListFutureDays int    `koanf:"listfuturedays"`
}

type Sync struct {
	Cron        string           `koanf:"cron"`
	HorizonDays int              `koanf:"horizondays"`
	School      []SchoolFeed     `koanf:"school"`
	Google      []GoogleCalendar `koanf:"google"`
}

type SchoolFeed struct {
	Id        string `koanf:"id"`
	Url       string `koanf:"url"`
	OwnerId   string `koanf:"ownerid"`
	FamilyId  string `koanf:"familyid"`
	ChildName string `koanf:"childname"`
}

type GoogleCalendar struct {
	CalendarId   string `koanf:"calendarid"`
	OwnerId      string `koanf:"ownerid"`
	FamilyId     string `koanf:"familyid"`
	RefreshToken string `koanf:"refreshtoken"`
}

type Google struct {
	ClientId     string `koanf:"clientid"`
	ClientSecret string `koanf:"clientsecret"`
}

func Defaults() Application {
	return Application{
		Host:   "http://localhost:3000",
		Listen: ":8181",
		Database: Database{
			Host:   "localhost",
			Port:   5432,
			User:   "famcal",
			Pass:   "",
			Name:   "famcal",
			Schema: "public",
		},
		Store: Store{
			Collection:     "events",
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Recovery: Recovery{
			Path:         "./data/recovery.db",
			MaxEntries:   500,
			MaxAttempts:  20,
			DrainOnStart: true,
			DrainCron:    "*/5 * * * *",
		},
		Calendar: Calendar{
			Timezone:       "Local",
			ListPastDays:   30,
			ListFutureDays: 60,
		},
		Sync: Sync{
			Cron:        "*/30 * * * *",
			HorizonDays: 90,
		},
	}
}

func Load(path string) (Application, error) {
	var k = koanf.New(".")

	err := k.Load(structs.Provider(Defaults(), "koanf"), nil)
	if err != nil {
		log.Errorf("error loading config from structs: %v", err)
		return Application{}, err
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if os.IsNotExist(err) {
			log.Infof("Config file not found at %s, using defaults and environment variables", path)
		} else {
			log.Errorf("error loading config from YAML: %v", err)
			return Application{}, err
		}
	} else {
		log.Infof("Loaded configuration from file: %s", path)
	}

	err = k.Load(env.Provider(".", env.Opt{
		Prefix: "FAMCAL_",
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, "FAMCAL_")), "_", ".")
			return k, v
		},
	}), nil)
	if err != nil {
		log.Errorf("error loading config from envs: %v", err)
		return Application{}, err
	}

	var app Application
	if err := k.Unmarshal("", &app); err != nil {
		return Application{}, err
	}

	return app, nil
}

// Location resolves the configured calendar timezone, falling back to time.Local.
func (c Calendar) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warnf("unknown calendar timezone %q, using local time: %v", c.Timezone, err)
		return time.Local
	}
	return loc
}
