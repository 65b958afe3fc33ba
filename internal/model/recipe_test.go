package model

import "testing"

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to RecipeStatus }{
		{RecipeUninitialized, RecipeQueued},
		{RecipeUninitialized, RecipeRunning},
		{RecipeQueued, RecipeRunning},
		{RecipeRunning, RecipeStable},
		{RecipeRunning, RecipeError},
		// Re-dispatch of a running recipe is allowed: no mutual exclusion,
		// and a crashed worker must not leave the recipe undispatchable.
		{RecipeRunning, RecipeQueued},
		{RecipeRunning, RecipeRunning},
		{RecipeStable, RecipeQueued},
		{RecipeStable, RecipeRunning},
		{RecipeError, RecipeQueued},
		{RecipeError, RecipeRunning},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to RecipeStatus }{
		{RecipeQueued, RecipeStable},
		{RecipeQueued, RecipeError},
		{RecipeStable, RecipeStable},
		{RecipeStable, RecipeError},
		{RecipeError, RecipeStable},
		{RecipeUninitialized, RecipeStable},
		{RecipeUninitialized, RecipeError},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestValidRecipeStatus(t *testing.T) {
	for _, s := range []RecipeStatus{RecipeUninitialized, RecipeQueued, RecipeRunning, RecipeStable, RecipeError} {
		if !ValidRecipeStatus(s) {
			t.Errorf("expected %s to be valid", s)
		}
	}
	if ValidRecipeStatus("paused") {
		t.Error("expected paused to be invalid")
	}
}

func TestValidQueue(t *testing.T) {
	if !ValidQueue(QueueDefault) || !ValidQueue(QueueBulk) {
		t.Error("expected builtin queues to be valid")
	}
	if ValidQueue("priority") {
		t.Error("expected unknown queue to be invalid")
	}
}
