package analysis

// RecipePrompt asks the model to classify the image and, for food, return the
// recipe as a fenced JSON object.
const RecipePrompt = `First, determine if this image contains food. If it does not contain food, respond with: {"isFood": false, "message": "This image does not appear to contain food. Please upload an image of food."}. ` +
	`If it does contain food, analyze it and provide a detailed response in this exact JSON format: ` +
	`{"isFood": true, "foodName": "name of the dish", "ingredients": ["ingredient1", "ingredient2", ...], "recipe": ["step 1", "step 2", ...], "cookingTime": "estimated cooking time", "difficulty": "easy/medium/hard", "cuisine": "type of cuisine"}. ` +
	"Make sure to wrap the response in ```json``` code blocks."
